package entitystore

// ValidationIssue is one structured validation finding, addressed by the
// property path it concerns ("" for record-level findings).
type ValidationIssue struct {
	Path    string
	Message string
}

// ValidationResult is the outcome of validating an entity. It is data, not
// an error: validation failures are returned to the caller before any
// persistence attempt so the caller can inspect and re-edit.
type ValidationResult struct {
	issues []ValidationIssue
}

// Valid reports whether no issues were found.
func (r ValidationResult) Valid() bool {
	return len(r.issues) == 0
}

// Issues returns a copy of the findings.
func (r ValidationResult) Issues() []ValidationIssue {
	out := make([]ValidationIssue, len(r.issues))
	copy(out, r.issues)

	return out
}

// With returns a result extended by one finding. Results are values; domain
// validators build them up fluently.
func (r ValidationResult) With(path, message string) ValidationResult {
	issues := make([]ValidationIssue, 0, len(r.issues)+1)
	issues = append(issues, r.issues...)
	issues = append(issues, ValidationIssue{Path: path, Message: message})

	return ValidationResult{issues: issues}
}

// Merge combines two results.
func (r ValidationResult) Merge(other ValidationResult) ValidationResult {
	if len(other.issues) == 0 {
		return r
	}

	issues := make([]ValidationIssue, 0, len(r.issues)+len(other.issues))
	issues = append(issues, r.issues...)
	issues = append(issues, other.issues...)

	return ValidationResult{issues: issues}
}

// Validator is a domain validation rule supplied at provider construction.
// It runs after the base validator on every save.
type Validator[T Entity] func(T) ValidationResult

// validateBase checks the invariants every stored record must satisfy:
// non-empty identity and partition key, the provider's discriminator, and
// never-default create/update timestamps.
func validateBase(entity Entity, typeName string) ValidationResult {
	var result ValidationResult
	base := entity.Base()

	if base.ID == "" {
		result = result.With("/id", "id must not be empty")
	}

	if base.PartitionKey == "" {
		result = result.With("/partitionKey", "partition key must not be empty")
	}

	if base.TypeName != typeName {
		result = result.With("/typeName", "type name does not match the provider discriminator")
	}

	if base.CreatedAt.IsZero() {
		result = result.With("/createdAt", "createdAt must not be default-valued")
	}

	if base.UpdatedAt.IsZero() {
		result = result.With("/updatedAt", "updatedAt must not be default-valued")
	}

	return result
}

package memutils

// Validatable is anything that can check its own internal consistency, such as a partition or a pool
// built on one. DebugValidate panics on the error it returns in debug builds.
type Validatable interface {
	Validate() error
}

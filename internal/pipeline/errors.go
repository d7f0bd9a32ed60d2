package pipeline

import (
	"fmt"

	"residuals/internal/warehouse"
)

// Stage names one step of the job.
type Stage string

const (
	StageProvision Stage = "provision"
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// StageError is implemented by every error the pipeline returns from a stage.
// Error() is prefixed with the stage name.
type StageError interface {
	error
	Stage() Stage
}

// ProvisioningError reports a failure to ensure the input table.
type ProvisioningError struct {
	Table warehouse.TableRef
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%s: table %s: %v", StageProvision, e.Table, e.Err)
}
func (e *ProvisioningError) Unwrap() error { return e.Err }
func (e *ProvisioningError) Stage() Stage  { return StageProvision }

// ExtractionError reports a failure to read the source table into a
// collection.
type ExtractionError struct {
	Table    warehouse.TableRef
	Location string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("%s: table %s: %v", StageExtract, e.Table, e.Err)
	}
	return fmt.Sprintf("%s: table %s via %s: %v", StageExtract, e.Table, e.Location, e.Err)
}
func (e *ExtractionError) Unwrap() error { return e.Err }
func (e *ExtractionError) Stage() Stage  { return StageExtract }

// TransformError reports invalid regression inputs or a failed fit. Column is
// set when a single column is at fault.
type TransformError struct {
	Column string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s: %v", StageTransform, e.Err)
	}
	return fmt.Sprintf("%s: column %q: %v", StageTransform, e.Column, e.Err)
}
func (e *TransformError) Unwrap() error { return e.Err }
func (e *TransformError) Stage() Stage  { return StageTransform }

// LoadError reports a failure to write the residual table.
type LoadError struct {
	Table    warehouse.TableRef
	Location string
	Err      error
}

func (e *LoadError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("%s: table %s: %v", StageLoad, e.Table, e.Err)
	}
	return fmt.Sprintf("%s: table %s via %s: %v", StageLoad, e.Table, e.Location, e.Err)
}
func (e *LoadError) Unwrap() error { return e.Err }
func (e *LoadError) Stage() Stage  { return StageLoad }

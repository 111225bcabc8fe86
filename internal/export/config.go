// Package export reconciles the relational store with the document logs and
// the resource caches and writes a self-describing export bundle.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultWorkers bounds per-note and per-attachment parallelism.
const DefaultWorkers = 4

// Config describes one export run.
type Config struct {
	DBPath  string // relational store
	DocRoot string // document-log root
	OutPath string // manifest file; its directory is the export root
	Limit   int    // cap on loaded notes, 0 for all

	// Resources and AssetsDir are given together. They enable attachment
	// copy and body rewrite. LegacyResources are fallback cache roots
	// searched after Resources.
	Resources       string
	LegacyResources []string
	AssetsDir       string

	Workers int
	Logger  *slog.Logger
	Now     func() time.Time
}

// Validate checks the run preconditions.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DBPath, validation.Required.Error("--db is required")),
		validation.Field(&c.DocRoot, validation.Required.Error("--rte is required")),
		validation.Field(&c.OutPath, validation.Required.Error("--out is required")),
		validation.Field(&c.Limit, validation.Min(0)),
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.Resources,
			validation.When(c.AssetsDir != "", validation.Required.Error("--resources and --assets must be given together")),
			validation.When(len(c.LegacyResources) > 0, validation.Required.Error("--legacy-resources needs --resources")),
		),
		validation.Field(&c.AssetsDir,
			validation.When(c.Resources != "", validation.Required.Error("--resources and --assets must be given together")),
		),
	)
}

// CopiesAssets reports whether attachments are copied and bodies rewritten.
func (c Config) CopiesAssets() bool {
	return c.Resources != "" && c.AssetsDir != ""
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Phase is a state of the export state machine.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseLoad     Phase = "load_relational"
	PhaseDecode   Phase = "decode_documents"
	PhaseResolve  Phase = "resolve_assets"
	PhaseRewrite  Phase = "rewrite_content"
	PhaseAssemble Phase = "assemble_manifest"
	PhaseWrite    Phase = "write"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// FatalError aborts a run. Phase is the state the run was in.
type FatalError struct {
	Phase Phase
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("export: %s: %v", e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err came from a structural failure.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

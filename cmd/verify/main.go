// Command verify checks an export bundle against its manifest.
//
// Exit status: 0 when the bundle is intact, 1 when integrity violations were
// found (one per line on stdout), 2 when the manifest is missing or unreadable.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/quire/internal/verify"
)

const (
	exitViolations = 1
	exitStructural = 2
)

// exitStatus carries the process exit code out of the action.
type exitStatus struct {
	code int
	err  error
}

func (e *exitStatus) Error() string { return e.err.Error() }

func run(ctx context.Context, cmd *cli.Command) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return &exitStatus{code: exitStructural, err: err}
	}
	logger := slog.New(slog.NewTextHandler(cmd.Root().ErrWriter, &slog.HandlerOptions{Level: lvl}))

	root := cmd.Args().First()
	if root == "" {
		return &exitStatus{code: exitStructural, err: errors.New("usage: quire-verify <export_root>")}
	}

	v, err := verify.New(verify.WithLogger(logger), verify.WithManifestName(cmd.String("manifest")))
	if err != nil {
		return &exitStatus{code: exitStructural, err: err}
	}
	rep, err := v.Verify(ctx, root)
	if err != nil {
		return &exitStatus{code: exitStructural, err: err}
	}
	report(cmd.Root().Writer, rep)
	if !rep.OK() {
		return &exitStatus{code: exitViolations, err: fmt.Errorf("%d integrity violations", len(rep.Violations))}
	}
	return nil
}

func report(w io.Writer, rep *verify.Report) {
	for _, v := range rep.Violations {
		fmt.Fprintln(w, v.String())
	}
	fmt.Fprintf(w, "notes=%d references=%d violations=%d\n", rep.Notes, rep.References, len(rep.Violations))
}

// exitCode maps an action error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var st *exitStatus
	if errors.As(err, &st) {
		return st.code
	}
	return exitStructural
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "quire-verify",
		Usage:     "Check an export bundle for missing files, dangling joins and non-portable references",
		ArgsUsage: "<export_root>",
		Action:    run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Manifest file name inside the export root",
				Value: verify.DefaultManifest,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Diagnostic log level (debug, info, warn, error)",
				Value: "warn",
			},
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		slog.Error("verify failed", slog.String("error", err.Error()))
		os.Exit(exitCode(err))
	}
}

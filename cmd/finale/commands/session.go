package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"grandfinale/api/internal/catalog"
	"grandfinale/api/internal/form"
	"grandfinale/api/internal/persist"
	"grandfinale/api/internal/printer"
	"grandfinale/api/internal/wizard"
)

// session bundles what every section command needs: the catalog, storage
// for the configured user and a logger.
type session struct {
	user    string
	catalog *catalog.Catalog
	local   *persist.FileStore
	adapter persist.Adapter
	log     *zap.Logger
	out     io.Writer
	errOut  io.Writer
}

func openSession(cmd *cobra.Command, v *viper.Viper) (*session, error) {
	errOut := cmd.ErrOrStderr()

	user := strings.TrimSpace(v.GetString("user"))
	if user == "" {
		return nil, printer.Error(errOut, "No user configured",
			"finale needs to know whose plan to edit.",
			[]string{"Pass --user you@example.com", "Set FINALE_USER in your environment"})
	}

	logger, err := newLogger(v.GetBool("verbose"))
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	sections, err := loadCatalog(v.GetString("catalog"))
	if err != nil {
		return nil, printer.Error(errOut, "Cannot load section catalog", err.Error(), nil)
	}

	local, err := persist.NewFileStore(v.GetString("data-dir"), user, persist.WithFileLogger(logger))
	if err != nil {
		return nil, printer.Error(errOut, "Cannot open local storage", err.Error(), nil)
	}

	s := &session{
		user:    user,
		catalog: sections,
		local:   local,
		adapter: local,
		log:     logger,
		out:     cmd.OutOrStdout(),
		errOut:  errOut,
	}
	if remote := strings.TrimSpace(v.GetString("remote-url")); remote != "" {
		client := persist.NewClient(remote, v.GetString("api-token"))
		s.adapter = &persist.Mirror{
			Primary:   local,
			Secondary: persist.NewRemote(client, user),
			Logger:    logger,
		}
	}
	return s, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func (s *session) close() {
	_ = s.log.Sync()
}

func (s *session) section(key string) (*catalog.Section, error) {
	section, ok := s.catalog.Lookup(key)
	if !ok {
		return nil, printer.Error(s.errOut, fmt.Sprintf("Unknown section %q", key),
			"Section keys are case sensitive.",
			[]string{"Run 'finale sections' to list them"})
	}
	return section, nil
}

func (s *session) open(ctx context.Context, key string) (*wizard.Screen, error) {
	section, err := s.section(key)
	if err != nil {
		return nil, err
	}
	return wizard.Open(ctx, section, s.adapter, wizard.WithLogger(s.log)), nil
}

// save persists edits without validating them. A failed mirror only warns
// because the local copy is already written.
func (s *session) save(ctx context.Context, screen *wizard.Screen) error {
	err := screen.Save(ctx)
	if err == nil {
		return nil
	}
	var mirrorErr *persist.MirrorError
	if errors.As(err, &mirrorErr) {
		printer.Warning(s.errOut, "saved locally, remote sync failed: %v\n", mirrorErr.Err)
		return nil
	}
	return printer.Error(s.errOut, "Could not save", err.Error(), nil)
}

// guardFallback refuses to write a section whose saved data exists but could
// not be loaded, since saving would replace it with defaults plus the edits.
func (s *session) guardFallback(screen *wizard.Screen, force bool) error {
	if force || screen.Source() != wizard.SourceFallback {
		return nil
	}
	return printer.Error(s.errOut, "Saved data could not be loaded", screen.LoadErr().Error(),
		[]string{
			"Check the remote with --verbose and try again",
			"Pass --force to replace the saved data with these edits",
		})
}

// editError renders the wizard's edit errors.
func (s *session) editError(err error) error {
	switch {
	case errors.Is(err, wizard.ErrAtMinimum):
		return printer.Error(s.errOut, "Cannot remove item", "This list already holds the minimum number of items.", nil)
	case errors.Is(err, wizard.ErrAtMaximum):
		return printer.Error(s.errOut, "Cannot add item", "This list is full.", nil)
	case errors.Is(err, wizard.ErrUnknownList), errors.Is(err, wizard.ErrUnknownItem):
		return printer.Error(s.errOut, "Nothing to edit", err.Error(),
			[]string{"Run 'finale show <section>' to see lists and item ids"})
	default:
		return printer.Error(s.errOut, "Edit failed", err.Error(), nil)
	}
}

// parseAssignments turns field=value arguments into typed values using the
// template defaults: boolean fields accept true/false, everything else is text.
func parseAssignments(template form.Record, args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		if field == form.IDField {
			return nil, fmt.Errorf("%q cannot be assigned", form.IDField)
		}
		var value any = raw
		if _, isBool := template[field].(bool); isBool {
			parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("field %q expects true or false, got %q", field, raw)
			}
			value = parsed
		}
		out = append(out, assignment{field: field, value: value})
	}
	return out, nil
}

type assignment struct {
	field string
	value any
}

package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grandfinale/api/internal/catalog"
	"grandfinale/api/internal/form"
	"grandfinale/api/internal/persist"
	"grandfinale/api/internal/phone"
	"grandfinale/api/internal/printer"
	"grandfinale/api/internal/wizard"
)

func newSectionsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "List the plan's sections and which ones are saved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.close()

			keys, err := s.local.Keys(cmd.Context())
			if err != nil {
				return printer.Error(s.errOut, "Cannot read local storage", err.Error(), nil)
			}
			saved := make(map[string]bool, len(keys))
			for _, k := range keys {
				saved[k] = true
			}

			done := 0
			for _, section := range s.catalog.Sections() {
				mark := " "
				if saved[section.Key] {
					mark = "✓"
					done++
				}
				printer.Info(s.out, "%s %2d. %-34s %s\n", mark, section.Order, section.Title, section.Key)
			}
			printer.Info(s.out, "\n%d of %d sections saved\n", done, len(s.catalog.Sections()))
			return nil
		},
	}
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show <section>",
		Short: "Print a section's current values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.close()

			screen, err := s.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer screen.Close()

			render(s.out, screen)
			return nil
		},
	}
}

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <section>",
		Short: "Check a section against its rules without saving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.close()

			screen, err := s.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer screen.Close()

			result := screen.Validate()
			if !result.OK() {
				return printer.Error(s.errOut, "Section incomplete", describe(*result.Violation), nil)
			}
			printer.Success(s.out, "%s is complete\n", screen.Section().Title)
			return nil
		},
	}
}

func newSubmitCmd(v *viper.Viper) *cobra.Command {
	return withForce(&cobra.Command{
		Use:   "submit <section>",
		Short: "Validate a section and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.close()

			screen, err := s.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer screen.Close()

			force, _ := cmd.Flags().GetBool(forceFlag)
			if err := s.guardFallback(screen, force); err != nil {
				return err
			}

			err = screen.Submit(cmd.Context())
			var verr *wizard.ValidationError
			var mirrorErr *persist.MirrorError
			switch {
			case err == nil:
				printer.Success(s.out, "%s saved\n", screen.Section().Title)
			case errors.As(err, &verr):
				return printer.Error(s.errOut, "Section incomplete", describe(verr.Violation), nil)
			case errors.As(err, &mirrorErr):
				printer.Warning(s.errOut, "saved locally, remote sync failed: %v\n", mirrorErr.Err)
			default:
				return printer.Error(s.errOut, "Could not save", err.Error(),
					[]string{"Your edits are still in the local document; run submit again"})
			}
			if next := nextSection(s.catalog, screen.Section()); next != nil {
				printer.Info(s.out, "Next: %s (finale show %s)\n", next.Title, next.Key)
			}
			return nil
		},
	})
}

func newPhoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phone <number>...",
		Short: "Format phone numbers the way the plan stores them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			raw := strings.Join(args, " ")
			info := phone.Format(raw)
			if !info.Valid {
				printer.Warning(out, "%q is not a recognized phone number\n", raw)
				return fmt.Errorf("unrecognized phone number")
			}
			printer.Info(out, "%s\n", info.Formatted)
			if info.CountryCode != "" {
				printer.Field(out, 2, 9, "country", "+"+info.CountryCode)
			}
			if info.AreaCode != "" {
				printer.Field(out, 2, 9, "area", info.AreaCode)
			}
			printer.Field(out, 2, 9, "number", info.Number)
			if info.Extension != "" {
				printer.Field(out, 2, 9, "extension", info.Extension)
			}
			return nil
		},
	}
}

func render(w io.Writer, screen *wizard.Screen) {
	section := screen.Section()
	state := screen.State()

	printer.Heading(w, "%s (%s) [%s]", section.Title, section.Key, screen.Source())

	names := orderedNames(section.FieldNames, state.Fields)
	width := maxWidth(names)
	for _, name := range names {
		printer.Field(w, 2, width, name, state.Fields[name])
	}

	listNames := make([]string, 0, len(state.Lists))
	for _, l := range section.Lists {
		listNames = append(listNames, l.Name)
	}
	for name := range state.Lists {
		if _, ok := section.List(name); !ok {
			listNames = append(listNames, name)
		}
	}

	for _, name := range listNames {
		def, _ := section.List(name)
		items := state.List(name)
		bound := "unbounded"
		if def.Limits.MaxItems > 0 {
			bound = fmt.Sprintf("max %d", def.Limits.MaxItems)
		}
		printer.Info(w, "\n  %s (%d, min %d, %s)\n", name, len(items), def.Limits.MinItems, bound)
		for _, record := range items {
			marker := ""
			if record.Bool(wizard.PrimaryField) {
				marker = " ★ primary"
			}
			printer.Info(w, "    [%s]%s\n", record.ID(), marker)
			fields := orderedNames(def.FieldNames, record)
			fieldWidth := maxWidth(fields)
			for _, field := range fields {
				if field == form.IDField || field == wizard.PrimaryField {
					continue
				}
				printer.Field(w, 6, fieldWidth, field, record[field])
			}
		}
	}

	printer.Info(w, "\n")
	if result := screen.Validate(); result.OK() {
		printer.Success(w, "complete\n")
	} else {
		printer.Warning(w, "%s\n", describe(*result.Violation))
	}
}

// orderedNames returns the declared names first, then any extra keys of
// record in sorted order.
func orderedNames(declared []string, record form.Record) []string {
	out := make([]string, 0, len(record))
	seen := make(map[string]bool, len(declared))
	for _, name := range declared {
		seen[name] = true
		out = append(out, name)
	}
	var extra []string
	for name := range record {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func maxWidth(names []string) int {
	width := 0
	for _, n := range names {
		if len(n) > width {
			width = len(n)
		}
	}
	return width
}

func describe(v form.Violation) string {
	if v.RecordID == "" {
		return v.Reason
	}
	return fmt.Sprintf("%s (%s item %s)", v.Reason, v.List, v.RecordID)
}

func nextSection(c *catalog.Catalog, current *catalog.Section) *catalog.Section {
	for _, s := range c.Sections() {
		if s.Order == current.Order+1 {
			return s
		}
	}
	return nil
}

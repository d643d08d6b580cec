package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grandfinale/api/internal/printer"
	"grandfinale/api/internal/wizard"
)

// editFunc applies one command's edits to an open screen.
type editFunc func(s *session, screen *wizard.Screen, args []string) error

const forceFlag = "force"

// withForce adds --force to commands that write a section.
func withForce(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().Bool(forceFlag, false, "save even if the existing data for the section could not be loaded")
	return cmd
}

// runEdit opens the section named by args[0], applies fn and saves the
// result locally without validating.
func runEdit(v *viper.Viper, fn editFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
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
		if err := fn(s, screen, args[1:]); err != nil {
			return err
		}
		return s.save(cmd.Context(), screen)
	}
}

func newSetCmd(v *viper.Viper) *cobra.Command {
	return withForce(&cobra.Command{
		Use:   "set <section> field=value...",
		Short: "Set singleton fields of a section",
		Args:  cobra.MinimumNArgs(2),
		RunE: runEdit(v, func(s *session, screen *wizard.Screen, args []string) error {
			assignments, err := parseAssignments(screen.Section().Fields, args)
			if err != nil {
				return printer.Error(s.errOut, "Invalid assignment", err.Error(), nil)
			}
			for _, a := range assignments {
				if err := screen.SetField(a.field, a.value); err != nil {
					return s.editError(err)
				}
			}
			printer.Success(s.out, "updated %d field(s)\n", len(assignments))
			return nil
		}),
	})
}

func newAddCmd(v *viper.Viper) *cobra.Command {
	return withForce(&cobra.Command{
		Use:   "add <section> <list> [field=value...]",
		Short: "Append an item to a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: runEdit(v, func(s *session, screen *wizard.Screen, args []string) error {
			list := args[0]
			def, _ := screen.Section().List(list)
			assignments, err := parseAssignments(def.Template, args[1:])
			if err != nil {
				return printer.Error(s.errOut, "Invalid assignment", err.Error(), nil)
			}
			id, err := screen.AddItem(list)
			if err != nil {
				return s.editError(err)
			}
			for _, a := range assignments {
				if err := screen.UpdateItem(list, id, a.field, a.value); err != nil {
					return s.editError(err)
				}
			}
			printer.Success(s.out, "added %s item %s\n", list, id)
			return nil
		}),
	})
}

func newUpdateCmd(v *viper.Viper) *cobra.Command {
	return withForce(&cobra.Command{
		Use:   "update <section> <list> <id> field=value...",
		Short: "Edit fields of one list item",
		Args:  cobra.MinimumNArgs(4),
		RunE: runEdit(v, func(s *session, screen *wizard.Screen, args []string) error {
			list, id := args[0], args[1]
			def, _ := screen.Section().List(list)
			assignments, err := parseAssignments(def.Template, args[2:])
			if err != nil {
				return printer.Error(s.errOut, "Invalid assignment", err.Error(), nil)
			}
			for _, a := range assignments {
				if err := screen.UpdateItem(list, id, a.field, a.value); err != nil {
					return s.editError(err)
				}
			}
			printer.Success(s.out, "updated %s item %s\n", list, id)
			return nil
		}),
	})
}

func newRemoveCmd(v *viper.Viper) *cobra.Command {
	return withForce(&cobra.Command{
		Use:   "remove <section> <list> <id>",
		Short: "Delete one list item",
		Args:  cobra.ExactArgs(3),
		RunE: runEdit(v, func(s *session, screen *wizard.Screen, args []string) error {
			if err := screen.RemoveItem(args[0], args[1]); err != nil {
				return s.editError(err)
			}
			printer.Success(s.out, "removed %s item %s\n", args[0], args[1])
			return nil
		}),
	})
}

func newPrimaryCmd(v *viper.Viper) *cobra.Command {
	return withForce(&cobra.Command{
		Use:   "primary <section> <list> <id>",
		Short: "Mark one list item as the primary one",
		Args:  cobra.ExactArgs(3),
		RunE: runEdit(v, func(s *session, screen *wizard.Screen, args []string) error {
			if err := screen.SetPrimary(args[0], args[1]); err != nil {
				return s.editError(err)
			}
			printer.Success(s.out, "%s item %s is now primary\n", args[0], args[1])
			return nil
		}),
	})
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camden-git/attendancebackend/services"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear today's attendance marks",
	Long: `Clear today's attendance marks, either all of them (--all) or those of
one identity selected by --external-id or by a --name fragment.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().Bool("all", false, "Clear every mark of today")
	resetCmd.Flags().String("name", "", "Clear the mark of the identity whose name contains this text")
	resetCmd.Flags().String("external-id", "", "Clear the mark of the identity with this external id")
	resetCmd.MarkFlagsMutuallyExclusive("all", "name", "external-id")
	resetCmd.MarkFlagsOneRequired("all", "name", "external-id")
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	var res *services.ResetResult
	switch {
	case mustGetBool(cmd, "all"):
		res, err = a.attendance.ResetAll(cmd.Context())
	case mustGetString(cmd, "external-id") != "":
		res, err = a.attendance.ResetByExternalID(cmd.Context(), mustGetString(cmd, "external-id"))
	default:
		res, err = a.attendance.ResetByName(cmd.Context(), mustGetString(cmd, "name"))
	}
	if err != nil {
		if errors.Is(err, services.ErrAmbiguousName) {
			return fmt.Errorf("%w (use --external-id to pick one)", err)
		}
		return err
	}
	fmt.Println(res.Message)
	return nil
}

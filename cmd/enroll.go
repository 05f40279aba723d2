package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/camden-git/attendancebackend/services"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <photo>",
	Short: "Enroll one identity from a photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().String("external-id", "", "External identifier, e.g. a student number (required)")
	enrollCmd.Flags().String("name", "", "Display name (required)")
	enrollCmd.Flags().String("contact", "", "Optional contact information")
	_ = enrollCmd.MarkFlagRequired("external-id")
	_ = enrollCmd.MarkFlagRequired("name")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	photo, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}

	a, err := newApp(appOptions{detectors: true})
	if err != nil {
		return err
	}
	defer a.Close()

	req := services.EnrollRequest{
		ExternalID: mustGetString(cmd, "external-id"),
		Name:       mustGetString(cmd, "name"),
		Photo:      photo,
	}
	if contact := strings.TrimSpace(mustGetString(cmd, "contact")); contact != "" {
		req.Contact = &contact
	}

	identity, err := a.enrollment.Enroll(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Printf("Enrolled %s (%s) as identity %d\n", identity.Name, identity.ExternalID, identity.ID)
	if h := a.classifier.Current(); h != nil {
		fmt.Printf("Classifier version %d trained on %d identities\n", h.Version, h.Samples)
	}
	return nil
}

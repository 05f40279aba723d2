package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/services"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <photo>",
	Short: "Recognize the face in a photo and mark attendance",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	recognizeCmd.Flags().String("recorded-by", "cli", "Device or operator recorded with the mark")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	frame, err := media.DecodeImage(data)
	if err != nil {
		return fmt.Errorf("failed to decode photo: %w", err)
	}
	dataURL, err := media.EncodeDataURL(frame, 95)
	if err != nil {
		return err
	}

	a, err := newApp(appOptions{detectors: true})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.recognition.Recognize(cmd.Context(), services.RecognizeRequest{
		ImageData:  dataURL,
		RecordedBy: mustGetString(cmd, "recorded-by"),
	})
	fmt.Printf("State: %s, candidates: %d, similarity: %.2f\n", res.State, res.Candidates, res.Similarity)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	return nil
}

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Face recognition attendance backend",
	Long: `Attendance enrolls identities from photos, recognizes faces in camera
frames and records at most one attendance mark per identity and day.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Info: error loading .env file: %v", err)
	}
}

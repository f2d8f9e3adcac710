package main

import (
	"fmt"
	"os"

	"github.com/TheCrowned/Post-SMTP/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "maillog",
	Short: "Store, browse and resend outgoing email logs",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

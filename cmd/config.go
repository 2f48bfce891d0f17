package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Renders the merged configuration (defaults, config file, environment) as YAML. The API token is redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		printable := *cfg
		if printable.API.Token != "" {
			printable.API.Token = "********"
		}
		out, err := yaml.Marshal(printable)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

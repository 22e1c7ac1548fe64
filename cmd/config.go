/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/svank/appa-backend/internal/config"
)

var configLocal bool

var configCmd = &cobra.Command{
	Use:   "config [KEY [VALUE]]",
	Short: "Get and set configuration values",
	Long: `With no arguments, lists every configuration value. With KEY,
prints that value. With KEY and VALUE, sets it. Writes go to the global
config (~/.appa/config.yaml) unless --local is given.

Valid keys: ` + fmt.Sprint(config.ValidKeys()),
	Args: cobra.MaximumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			all := cfg.All()
			keys := make([]string, 0, len(all))
			for key := range all {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Printf("%s = %s\n", key, all[key])
			}
			return nil
		case 1:
			value, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			scope := config.ScopeGlobal
			if configLocal {
				scope = config.ScopeLocal
			}
			target, err := config.LoadScope(scope)
			if err != nil {
				return err
			}
			if err := target.Set(args[0], args[1]); err != nil {
				return err
			}
			return target.Save()
		}
	},
}

func init() {
	configCmd.Flags().BoolVar(&configLocal, "local", false, "Write to .appa/config.yaml in the current directory")
	rootCmd.AddCommand(configCmd)
}

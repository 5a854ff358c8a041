/*
Copyright 2025 Hookline Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/config"
	"github.com/hookline/hookline/database"
	"github.com/hookline/hookline/internal/notification"
)

// Hookline represents the CLI application, encapsulating the root Cobra command.
type Hookline struct {
	cmd *cobra.Command
}

// hooklineInstance holds the engine instance and its configuration, shared
// across subcommands.
type hooklineInstance struct {
	hookline *hookline.Hookline
	cnf      *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the engine before running
// any command.
func preRun(app *hooklineInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("hookline.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newHookline, err := setupHookline(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.hookline = newHookline
		app.cnf = cnf

		return nil
	}
}

// setupHookline creates and initializes the engine from the provided
// configuration, connecting the dead-letter datasource first.
func setupHookline(cfg *config.Configuration) (*hookline.Hookline, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newHookline, err := hookline.NewHookline(db)
	if err != nil {
		return nil, fmt.Errorf("error creating hookline: %v", err)
	}
	return newHookline, nil
}

// NewCLI creates the command-line interface for the hookline application.
func NewCLI() *Hookline {
	var configFile string
	h := &hooklineInstance{}

	var rootCmd = &cobra.Command{
		Use:   "hookline",
		Short: "Webhook delivery and recovery engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./hookline.json", "Configuration file for hookline")

	rootCmd.PersistentPreRunE = preRun(h)

	rootCmd.AddCommand(serverCommands(h))
	rootCmd.AddCommand(workerCommands(h))

	return &Hookline{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Hookline) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}

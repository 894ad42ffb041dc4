package main

import (
	"os"

	"github.com/spf13/cobra"
	cmdutils "github.com/trustbloc/cmdutil-go/pkg/utils/cmd"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/mdoc-wallet/cmd/common"
)

var logger = log.New("mdoc-wallet")

func main() {
	rootCmd := &cobra.Command{
		Use:   "wallet",
		Short: "Holds mdocs and discloses them to ISO 18013-5 verifiers",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logLevel := cmdutils.GetUserSetOptionalVarFromString(cmd, common.LogLevelFlagName, common.LogLevelEnvKey)
			if logLevel != "" {
				common.SetDefaultLogLevel(logger, logLevel)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringP(common.LogLevelFlagName, common.LogLevelFlagShorthand, "", common.LogLevelFlagUsage)

	rootCmd.AddCommand(initCmd(), listCmd(), discloseCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Failed to run wallet", log.WithError(err))
		os.Exit(1)
	}
}

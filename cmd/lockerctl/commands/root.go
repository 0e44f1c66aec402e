package commands

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"smartlocker/internal/apiclient"
	"smartlocker/internal/config"
)

var (
	apiURL string
	client *apiclient.Client
)

func Execute() error {
	// validation errors only matter to the servers
	cfg, _ := config.Load()

	root := &cobra.Command{
		Use:          "lockerctl",
		Short:        "Drive the smart locker booking API from a terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api is required")
			}
			client = apiclient.New(apiURL)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&apiURL, "api", cfg.APIURL, "locker API base URL")

	root.AddCommand(
		sessionCmd(), lockersCmd(),
		registerCmd(), loginCmd(),
		selectCmd(), durationCmd(), continueCmd(), verifyCmd(),
		countdownCmd(), resetCmd(),
		reservationsCmd(), completeCmd(), accessCmd(), exportCmd(),
	)
	return root.Execute()
}

// readFace accepts either a path to an image file or an already encoded
// image string such as a data URL.
func readFace(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	info, err := os.Stat(v)
	if err != nil || info.IsDir() {
		return v, nil
	}
	raw, err := os.ReadFile(v)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw), nil
}

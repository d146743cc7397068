package commands

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/DevJSter/eth-suiResolver/internal/config"
)

const operatorTimeout = 10 * time.Second

func controlPlaneURLs() (health, control string, err error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.HealthPort),
		fmt.Sprintf("http://127.0.0.1:%d", cfg.ControlPort), nil
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "query the running resolver's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			health, _, err := controlPlaneURLs()
			if err != nil {
				return &exitCoder{code: 2, err: err}
			}
			return fetchAndPrint(health + "/health")
		},
	}
}

func newListActiveSwapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-active-swaps",
		Short: "list swaps tracked by the running resolver",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, control, err := controlPlaneURLs()
			if err != nil {
				return &exitCoder{code: 2, err: err}
			}
			return fetchAndPrint(control + "/swaps")
		},
	}
}

func newGetSwapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-swap <swap-id>",
		Short: "print one swap's current record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, control, err := controlPlaneURLs()
			if err != nil {
				return &exitCoder{code: 2, err: err}
			}
			return fetchAndPrint(control + "/swaps/" + args[0])
		},
	}
}

func newForceRefundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-refund <swap-id>",
		Short: "enqueue an immediate re-evaluation of a swap's refund path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, control, err := controlPlaneURLs()
			if err != nil {
				return &exitCoder{code: 2, err: err}
			}
			client := &http.Client{Timeout: operatorTimeout}
			resp, err := client.Post(control+"/swaps/"+args[0], "application/json", nil)
			if err != nil {
				return &exitCoder{code: 1, err: err}
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			fmt.Println(string(body))
			if resp.StatusCode >= 400 {
				return &exitCoder{code: 1, err: fmt.Errorf("force-refund failed: %s", resp.Status)}
			}
			return nil
		},
	}
}

func fetchAndPrint(url string) error {
	client := &http.Client{Timeout: operatorTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return &exitCoder{code: 1, err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exitCoder{code: 1, err: err}
	}
	fmt.Println(string(body))
	if resp.StatusCode >= 400 {
		return &exitCoder{code: 1, err: fmt.Errorf("request to %s failed: %s", url, resp.Status)}
	}
	return nil
}

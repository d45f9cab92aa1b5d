package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the talk command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitRateLimited = 2
	ExitUnavailable = 3
)

var (
	talkMessage     string
	talkServerURL   string
	talkAPIToken    string
	talkExternalID  string
	talkName        string
	talkPerspective string
	talkTimeout     int
	talkJSON        bool
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Send a one-shot turn to a running server",
	Long: `Send a message to a running Nafsi server and print the reply.
The turn runs through the full pipeline: mood, memory, deliberation, and
the agency gate.

Examples:
  nafsi talk -m "how was your night?"
  nafsi talk -m "remind me to stretch" --external-id laptop
  nafsi talk -m "what could go wrong here?" --perspective skeptic

Exit codes:
  0  success
  1  turn failure
  2  rate limited
  3  server unavailable`,
	RunE: runTalk,
}

func init() {
	talkCmd.Flags().StringVarP(&talkMessage, "message", "m", "", "message to send (required)")
	talkCmd.Flags().StringVar(&talkServerURL, "server-url", "http://localhost:8087", "server URL")
	talkCmd.Flags().StringVar(&talkAPIToken, "api-token", "", "bearer token (or NAFSI_API_TOKEN env)")
	talkCmd.Flags().StringVar(&talkExternalID, "external-id", "cli", "counterpart identity")
	talkCmd.Flags().StringVar(&talkName, "name", "", "display name, recorded on first contact")
	talkCmd.Flags().StringVar(&talkPerspective, "perspective", "", "force a single deliberation perspective")
	talkCmd.Flags().IntVar(&talkTimeout, "timeout", 90, "timeout in seconds")
	talkCmd.Flags().BoolVar(&talkJSON, "json", false, "print the raw JSON response")

	_ = talkCmd.MarkFlagRequired("message")
}

func runTalk(_ *cobra.Command, _ []string) error {
	if talkMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	token := goutils.Env("NAFSI_API_TOKEN", talkAPIToken)
	serverURL := goutils.Env("NAFSI_SERVER_URL", talkServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(talkTimeout)*time.Second)
	defer cancel()

	reqBody, _ := json.Marshal(map[string]any{
		"external_id": talkExternalID,
		"name":        talkName,
		"message":     talkMessage,
		"perspective": talkPerspective,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/v1/turn", bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		if talkJSON {
			fmt.Println(string(respBody))
			return nil
		}
		var result struct {
			Text            string `json:"text"`
			Posture         string `json:"posture"`
			CapabilityLevel string `json:"capability_level"`
			Degraded        bool   `json:"degraded"`
		}
		if err := json.Unmarshal(respBody, &result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: malformed response: %v\n", err)
			os.Exit(ExitFailure)
		}
		fmt.Println(result.Text)
		if result.Degraded {
			fmt.Fprintf(os.Stderr, "(degraded: %s)\n", result.CapabilityLevel)
		}
		return nil
	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again shortly")
		os.Exit(ExitRateLimited)
	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: authentication failed (use --api-token or set NAFSI_API_TOKEN)")
		os.Exit(ExitFailure)
	case http.StatusServiceUnavailable:
		fmt.Fprintln(os.Stderr, "Error: presence unavailable")
		os.Exit(ExitUnavailable)
	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}
	return nil
}

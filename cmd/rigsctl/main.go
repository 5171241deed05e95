package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	serverURL string
	token     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "rigsctl",
		Short:   "rigsctl - operate a rigsd scheduler",
		Long:    "rigsctl is a command-line interface for submitting convoys and inspecting tank health on a running rigsd server.",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "rigsd server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("RIGS_TOKEN"), "bearer token for the operator API")

	rootCmd.AddCommand(newConvoyCommand())
	rootCmd.AddCommand(newTankCommand())
	rootCmd.AddCommand(newEventsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("RIGS_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8090"
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient() *client {
	return &client{baseURL: serverURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(method, path string, data interface{}) ([]byte, error) {
	u := c.baseURL + path

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (c *client) get(path string) ([]byte, error)          { return c.do(http.MethodGet, path, nil) }
func (c *client) post(path string, data interface{}) ([]byte, error) { return c.do(http.MethodPost, path, data) }

func printJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(string(pretty))
}

func newConvoyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convoy",
		Short: "Submit and inspect convoys",
	}
	cmd.AddCommand(newConvoySubmitCommand())
	cmd.AddCommand(newConvoyListCommand())
	cmd.AddCommand(newConvoyShowCommand())
	return cmd
}

func newConvoySubmitCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "submit <goal>",
		Short: "Submit a goal for the Assayer to decompose into beads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/convoys", map[string]string{"name": name, "goal": args[0]})
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "optional human-readable convoy name")
	return cmd
}

func newConvoyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known convoys",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/convoys")
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
}

func newConvoyShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a convoy's status and constituent beads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/convoys/" + args[0])
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
}

func newTankCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tank",
		Short: "Inspect and refresh provider tanks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show every provider's current capacity, health, and circuit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/tanks")
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh <provider>",
		Short: "Force an out-of-band refresh for one provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/tanks/"+args[0]+"/refresh", nil)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	})
	return cmd
}

func newEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Tail the live bead/tank event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tailEvents()
		},
	}
}

func tailEvents() error {
	wsURL := strings.Replace(serverURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/events/ws"

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer conn.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var v interface{}
		if err := json.Unmarshal(message, &v); err == nil {
			pretty, _ := json.Marshal(v)
			fmt.Fprintln(out, string(pretty))
		} else {
			fmt.Fprintln(out, string(message))
		}
		out.Flush()
	}
}

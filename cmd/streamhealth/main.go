package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/streamhealth/pkg/api/client"
	jwtpkg "github.com/splax/streamhealth/pkg/jwt"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

const defaultAPIBase = "http://localhost:4000"

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "metrics":
		err = commandMetrics(args, os.Stdout)
	case "action":
		err = commandAction(args)
	case "health":
		err = commandHealth(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commandLogin mints an operator token with the shared signing secret and
// stores it for later commands.
func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("user", "", "Operator user identifier")
	team := fs.String("team", "", "Optional team identifier")
	secretFlag := fs.String("secret", "", "JWT signing secret (supply to avoid prompt, or set JWT_SECRET)")
	ttl := fs.Duration("ttl", 12*time.Hour, "Token lifetime")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBase+")")
	fs.Parse(args)

	if strings.TrimSpace(*user) == "" {
		return errors.New("--user is required")
	}
	secret := strings.TrimSpace(*secretFlag)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}
	if secret == "" {
		fmt.Print("Signing secret: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = strings.TrimSpace(string(bytes))
	}

	token, err := jwtpkg.GenerateToken(strings.TrimSpace(*user), strings.TrimSpace(*team), secret, *ttl)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	cfg.AccessToken = token
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("token stored, expires in %s\n", *ttl)
	return nil
}

func commandMetrics(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	channelID := fs.String("channel", "", "Channel identifier")
	sessionID := fs.String("session", "", "Stream session identifier")
	asJSON := fs.Bool("json", false, "Print the raw JSON payload")
	fs.Parse(args)

	if strings.TrimSpace(*channelID) == "" || strings.TrimSpace(*sessionID) == "" {
		return errors.New("--channel and --session are required")
	}
	client, token, err := authenticatedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	metrics, err := client.GetSessionMetrics(ctx, token, *channelID, *sessionID)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(metrics)
	}
	return printMetrics(out, metrics)
}

func printMetrics(out io.Writer, metrics apiclient.SessionMetrics) error {
	state := "ended"
	if metrics.Live {
		state = "live"
	}
	fmt.Fprintf(out, "session %s on %s (%s, period %ds, cached=%t)\n", metrics.SessionID, metrics.ChannelID, state, metrics.Period, metrics.Cached)
	fmt.Fprintf(out, "window %s - %s\n\n", metrics.AlignedStartTime.Format(time.RFC3339), metrics.AlignedEndTime.Format(time.RFC3339))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tPOINTS\tAVERAGE\tMAXIMUM")
	for _, m := range metrics.Metrics {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", m.Label, len(m.Data), formatStat(m.Statistics.Average), formatStat(m.Statistics.Maximum))
	}
	return tw.Flush()
}

func formatStat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func commandAction(args []string) error {
	fs := flag.NewFlagSet("action", flag.ExitOnError)
	channelID := fs.String("channel", "", "Channel identifier")
	channelARN := fs.String("arn", "", "Channel ARN")
	name := fs.String("name", "", "Action name")
	payload := fs.String("payload", "", "Optional JSON payload")
	fs.Parse(args)

	if strings.TrimSpace(*channelID) == "" || strings.TrimSpace(*channelARN) == "" || strings.TrimSpace(*name) == "" {
		return errors.New("--channel, --arn and --name are required")
	}
	input := apiclient.SendActionInput{ChannelARN: *channelARN, Name: *name}
	if raw := strings.TrimSpace(*payload); raw != "" {
		if !json.Valid([]byte(raw)) {
			return errors.New("--payload must be valid JSON")
		}
		input.Payload = json.RawMessage(raw)
	}
	client, token, err := authenticatedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.SendAction(ctx, token, *channelID, input); err != nil {
		return err
	}
	fmt.Println("action sent")
	return nil
}

func commandHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Println(status)
	return nil
}

func authenticatedClient() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'streamhealth login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "streamhealth", "config.json"), nil
}

func printUsage() {
	fmt.Printf("streamhealth CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	streamhealth login --user <id> [--team <id>] [--secret s] [--ttl 12h] [--api http://localhost:4000]
	streamhealth metrics --channel <channel-id> --session <session-id> [--json]
	streamhealth action --channel <channel-id> --arn <channel-arn> --name <name> [--payload '{...}']
	streamhealth health [--api http://localhost:4000]
	streamhealth version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}

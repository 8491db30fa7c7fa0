package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vinq/internal/config"
	"github.com/kalambet/vinq/internal/predict"
	"github.com/kalambet/vinq/internal/predlog"
	"github.com/kalambet/vinq/internal/storage"
)

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store an access token for admin commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("VINQ_PASSWORD")
		}
		if password == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimSpace(line)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.token = ""

		resp, err := client.post(cmd.Context(), "/auth/login", map[string]string{
			"username": username,
			"password": password,
		})
		if err != nil {
			return err
		}
		var tok struct {
			Token     string    `json:"token"`
			Role      string    `json:"role"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		if err := decodeJSON(resp, &tok); err != nil {
			return err
		}
		if err := saveToken(cfg.Storage.DataDir, tok.Token); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}

		printSuccess("Logged in as %s (role %s), token valid until %s", username, tok.Role, tok.ExpiresAt.Local().Format(time.Kitchen))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringP("username", "u", "admin", "username")
	loginCmd.Flags().StringP("password", "p", "", "password (default: $VINQ_PASSWORD or prompt)")
}

// --- predict ---

var predictCmd = &cobra.Command{
	Use:   "predict [file|-]",
	Short: "Predict the quality of one wine",
	Long: `Predict the quality of one wine.

The payload is a JSON object read from a file, or from stdin with "-".
Individual features can be given or overridden with --set.

Examples:
  vinq predict wine.json
  vinq predict wine.json --set alcohol=12.5 --set type=white
  echo '{"alcohol": 9.4, ...}' | vinq predict -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, _ := cmd.Flags().GetStringArray("set")
		asJSON, _ := cmd.Flags().GetBool("json")

		payload := map[string]any{}
		if len(args) == 1 {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("payload must be a JSON object: %w", err)
			}
		}
		overrides, err := parseAssignments(sets)
		if err != nil {
			return err
		}
		for k, v := range overrides {
			payload[k] = v
		}
		if len(payload) == 0 {
			return fmt.Errorf("no features given; pass a JSON file or --set name=value")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/predict", payload)
		if err != nil {
			return err
		}
		var res predict.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, res)
		}
		fmt.Fprintf(out, "Predicted quality: %s\n", labelColor(res.Prediction))
		printProba(out, res.Classes, res.Proba)
		return nil
	},
}

func init() {
	predictCmd.Flags().StringArray("set", nil, "feature assignment name=value (repeatable)")
	predictCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// parseAssignments turns name=value pairs into a payload. Values that parse
// as numbers are sent as numbers.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, want name=value", p)
		}
		value = strings.TrimSpace(value)
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			out[name] = f
		} else {
			out[name] = value
		}
	}
	return out, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch <file|->",
	Short: "Predict a JSON array of wines (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		if !json.Valid(data) {
			return fmt.Errorf("%s is not valid JSON", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/admin/predict-batch", json.RawMessage(data))
		if err != nil {
			return err
		}
		var res predict.BatchResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, res)
		}
		failed := 0
		for i, p := range res.Predictions {
			if p == nil {
				failed++
				fmt.Fprintf(out, "%4d  %s\n", i, colorize(colorRed, "invalid"))
				continue
			}
			fmt.Fprintf(out, "%4d  %s\n", i, labelColor(*p))
		}
		if failed > 0 {
			printWarning("%d of %d items could not be predicted", failed, res.Count)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- model ---

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect and manage the model",
}

var modelInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show model metadata from the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/model-info")
		if err != nil {
			return err
		}
		var md predict.Metadata
		if err := decodeJSON(resp, &md); err != nil {
			return err
		}
		printMetadata(cmd.OutOrStdout(), md)
		return nil
	},
}

var modelImportanceCmd = &cobra.Command{
	Use:   "importance",
	Short: "Show feature importances (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/admin/feature-importance")
		if err != nil {
			return err
		}
		var rep predict.ImportanceReport
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}
		return printImportances(cmd.OutOrStdout(), rep)
	},
}

var modelReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the model artifact on the running server (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/admin/reload-model", nil)
		if err != nil {
			return err
		}
		var res map[string]string
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Model reloaded from %s", res["model_file"])
		return nil
	},
}

var modelInspectCmd = &cobra.Command{
	Use:   "inspect <artifact>",
	Short: "Describe a model artifact file without a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := predict.New(predict.Options{Path: args[0]})
		if err != nil {
			return err
		}
		md, err := svc.Describe(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printMetadata(out, md)
		fmt.Fprintln(out)
		return printImportances(out, svc.Importances(cmd.Context()))
	},
}

var modelConvertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Validate an artifact and rewrite it (a .gz output is compressed)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return convertArtifact(args[0], args[1])
	},
}

func init() {
	modelCmd.AddCommand(modelInfoCmd, modelImportanceCmd, modelReloadCmd, modelInspectCmd, modelConvertCmd)
}

func printMetadata(w io.Writer, md predict.Metadata) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "File:   "), md.ModelFile)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Steps:  "), strings.Join(md.PipelineSteps, " → "))
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Classes:"), strings.Join(md.Classes, ", "))
	if len(md.Params) == 0 {
		return
	}
	fmt.Fprintln(w, colorize(colorBold, "Params:"))
	keys := make([]string, 0, len(md.Params))
	for k := range md.Params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %v\n", k, md.Params[k])
	}
}

func printImportances(w io.Writer, rep predict.ImportanceReport) error {
	if rep.Error != "" {
		return fmt.Errorf("feature importance unavailable: %s", rep.Error)
	}
	if !rep.SupportsImportance {
		fmt.Fprintln(w, "The classifier does not report feature importances.")
		return nil
	}
	for _, fi := range rep.Importances {
		bar := strings.Repeat("█", int(fi.Importance*40+0.5))
		fmt.Fprintf(w, "  %-22s %.4f %s\n", fi.Feature, fi.Importance, colorize(colorCyan, bar))
	}
	return nil
}

// --- logs ---

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View and manage the prediction log (admin)",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent predictions held in memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/admin/logs")
		if err != nil {
			return err
		}
		var res struct {
			Count int             `json:"count"`
			Items []predlog.Entry `json:"items"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, res)
		}
		if res.Count == 0 {
			fmt.Fprintln(out, "No predictions logged.")
			return nil
		}
		for _, e := range res.Items {
			printEntry(out, e)
		}
		return nil
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the in-memory prediction log",
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetBool("history")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/admin/logs")
		if err != nil {
			return err
		}
		var res map[string]any
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Prediction log cleared")

		if !history {
			return nil
		}
		resp, err = client.delete(cmd.Context(), "/admin/logs/history")
		if err != nil {
			return err
		}
		res = nil
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Deleted %v stored predictions", res["deleted"])
		return nil
	},
}

var logsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Page through the stored prediction history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		resp, err := client.get(cmd.Context(), "/admin/logs/history?"+q.Encode())
		if err != nil {
			return err
		}
		var res struct {
			Count int                  `json:"count"`
			Items []storage.Prediction `json:"items"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, res)
		}
		if res.Count == 0 {
			fmt.Fprintln(out, "No stored predictions.")
			return nil
		}
		for _, p := range res.Items {
			printEntry(out, predlog.Entry{
				ID:         p.ID,
				Time:       p.CreatedAt,
				Source:     p.Source,
				Prediction: p.Prediction,
			})
		}
		return nil
	},
}

var logsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream new predictions as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return tailLogs(ctx, client, cmd.OutOrStdout())
	},
}

func init() {
	logsListCmd.Flags().Bool("json", false, "print the raw JSON response")
	logsClearCmd.Flags().Bool("history", false, "also delete the stored prediction history")
	logsHistoryCmd.Flags().Int("limit", 50, "maximum number of predictions")
	logsHistoryCmd.Flags().Int("offset", 0, "number of newest predictions to skip")
	logsHistoryCmd.Flags().Bool("json", false, "print the raw JSON response")
	logsCmd.AddCommand(logsListCmd, logsClearCmd, logsHistoryCmd, logsTailCmd)
}

func printEntry(w io.Writer, e predlog.Entry) {
	id := e.ID
	if len(id) > 8 {
		id = id[:8]
	}
	fmt.Fprintf(w, "%s  %s  %-7s %s\n",
		colorize(colorCyan, id),
		e.Time.Local().Format(time.DateTime),
		e.Source,
		labelColor(e.Prediction),
	)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd, configPathCmd)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

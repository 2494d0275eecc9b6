package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aviary/internal/client"
	"aviary/internal/config"
	"aviary/internal/db"
	"aviary/internal/domain"
	"aviary/internal/keystore"
	"aviary/internal/migrate"
	"aviary/internal/registry"
	"aviary/internal/repo"
	"aviary/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "av",
	Short: "Aviary CLI",
	Long: `Aviary stores versioned survey objects in the cloud and runs inference
jobs against them. Objects are addressed by uuid or by owner/alias; jobs are
submitted asynchronously and polled until they finish.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AVIARY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("base-url", "", "web base URL (defaults to the production host)")
	rootCmd.PersistentFlags().String("api-key", "", "API key (falls back to the keystore and AVIARY_API_KEY)")
	rootCmd.PersistentFlags().String("run-mode", "production", "run mode: production, development, or testing")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("run-mode", rootCmd.PersistentFlags().Lookup("run-mode"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(objectCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(giftCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(serveCmd())
}

func newClient() *client.Client {
	runMode := viper.GetString("run-mode")
	profile, _ := config.LoadOptional(".")
	base := viper.GetString("base-url")
	if base == "" && profile != nil {
		base = profile.BaseURL
	}
	key := viper.GetString("api-key")
	if key == "" && profile != nil {
		key = profile.APIKey
	}
	return client.New(client.Config{
		APIKey:   key,
		BaseURL:  base,
		Keystore: keystore.New(runMode),
	})
}

func objectCmd() *cobra.Command {
	obj := &cobra.Command{Use: "object", Short: "Manage stored objects"}
	obj.AddCommand(objectPushCmd())
	obj.AddCommand(objectGetCmd())
	obj.AddCommand(objectListCmd())
	obj.AddCommand(objectPatchCmd())
	obj.AddCommand(objectDeleteCmd())
	return obj
}

func objectPushCmd() *cobra.Command {
	var objectType, description, alias, visibility, fromFile string
	cmd := &cobra.Command{
		Use:   "push [json-file]",
		Short: "Store an object from a JSON payload or a raw file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var obj registry.Object
			switch {
			case fromFile != "":
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				suffix := strings.TrimPrefix(filepath.Ext(fromFile), ".")
				mimeType := mime.TypeByExtension(filepath.Ext(fromFile))
				if mimeType == "" {
					mimeType = "application/octet-stream"
				}
				obj = registry.NewFileStore(fromFile, suffix, mimeType, data)
			case len(args) == 1:
				if objectType == "" {
					return fmt.Errorf("--type is required when pushing a JSON payload")
				}
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var dict map[string]any
				if err := json.Unmarshal(data, &dict); err != nil {
					return fmt.Errorf("parse %s: %w", args[0], err)
				}
				obj, err = registry.New(domain.ObjectType(objectType), dict)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("either a json-file argument or --file is required")
			}

			opts := client.CreateOptions{Visibility: domain.Visibility(visibility)}
			if description != "" {
				opts.Description = &description
			}
			if alias != "" {
				opts.Alias = &alias
			}
			info, err := newClient().Create(cmd.Context(), obj, opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(info)
		},
	}
	cmd.Flags().StringVarP(&objectType, "type", "t", "", "object type (agent, survey, results, ...)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "object description")
	cmd.Flags().StringVarP(&alias, "alias", "a", "", "object alias")
	cmd.Flags().StringVar(&visibility, "visibility", "unlisted", "private, public, or unlisted")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "push a raw file as a file-backed scenario")
	return cmd
}

func objectGetCmd() *cobra.Command {
	var expectedType string
	cmd := &cobra.Command{
		Use:   "get <uuid-or-url>",
		Short: "Fetch an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := newClient().Get(cmd.Context(), args[0], domain.ObjectType(expectedType))
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{
				"object_type": obj.ObjectType(),
				"value":       obj.Dict(),
			})
		},
	}
	cmd.Flags().StringVarP(&expectedType, "type", "t", "", "fail unless the stored object has this type")
	return cmd
}

func objectListCmd() *cobra.Command {
	var types, visibility []string
	var search string
	var page, pageSize int
	var ascending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.ListOptions{
				SearchQuery:   search,
				Page:          page,
				PageSize:      pageSize,
				SortAscending: ascending,
			}
			for _, t := range types {
				opts.Types = append(opts.Types, domain.ObjectType(t))
			}
			for _, v := range visibility {
				opts.Visibility = append(opts.Visibility, domain.Visibility(v))
			}
			records, err := newClient().List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(records)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"UUID", "Type", "Alias", "Description", "Visibility"})
			for _, rec := range records {
				tw.AppendRow(table.Row{rec.UUID, rec.ObjectType, deref(rec.Alias), deref(rec.Description), rec.Visibility})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "filter by object type")
	cmd.Flags().StringSliceVar(&visibility, "visibility", nil, "filter by visibility")
	cmd.Flags().StringVarP(&search, "search", "s", "", "search descriptions")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "page size (max 100)")
	cmd.Flags().BoolVar(&ascending, "ascending", false, "oldest first")
	return cmd
}

func objectPatchCmd() *cobra.Command {
	var description, alias, visibility, valueFile, valueType string
	cmd := &cobra.Command{
		Use:   "patch <uuid-or-url>",
		Short: "Update an object's attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts client.PatchOptions
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("alias") {
				opts.Alias = &alias
			}
			if cmd.Flags().Changed("visibility") {
				v := domain.Visibility(visibility)
				opts.Visibility = &v
			}
			if valueFile != "" {
				if valueType == "" {
					return fmt.Errorf("--type is required with --value")
				}
				data, err := os.ReadFile(valueFile)
				if err != nil {
					return err
				}
				var dict map[string]any
				if err := json.Unmarshal(data, &dict); err != nil {
					return fmt.Errorf("parse %s: %w", valueFile, err)
				}
				obj, err := registry.New(domain.ObjectType(valueType), dict)
				if err != nil {
					return err
				}
				opts.Value = obj
			}
			if err := newClient().Patch(cmd.Context(), args[0], opts); err != nil {
				return err
			}
			fmt.Println("patched")
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVarP(&alias, "alias", "a", "", "new alias")
	cmd.Flags().StringVar(&visibility, "visibility", "", "new visibility")
	cmd.Flags().StringVar(&valueFile, "value", "", "JSON file with the new payload")
	cmd.Flags().StringVarP(&valueType, "type", "t", "", "object type of --value")
	return cmd
}

func objectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uuid-or-url>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage remote inference jobs"}
	job.AddCommand(jobSubmitCmd())
	job.AddCommand(jobStatusCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobCostCmd())
	return job
}

func readJobDefinition(path string) (client.JobDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return client.JobDefinition{}, err
	}
	var raw struct {
		Survey    map[string]any   `json:"survey"`
		Agents    []map[string]any `json:"agents"`
		Scenarios []map[string]any `json:"scenarios"`
		Models    []map[string]any `json:"models"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return client.JobDefinition{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if raw.Survey == nil {
		// A bare survey file is also accepted.
		var survey map[string]any
		if err := json.Unmarshal(data, &survey); err != nil {
			return client.JobDefinition{}, fmt.Errorf("parse %s: %w", path, err)
		}
		return client.JobDefinition{Survey: survey}, nil
	}
	return client.JobDefinition{
		Survey:    raw.Survey,
		Agents:    raw.Agents,
		Scenarios: raw.Scenarios,
		Models:    raw.Models,
	}, nil
}

func jobSubmitCmd() *cobra.Command {
	var description, visibility, resultsVisibility string
	var iterations int
	var fresh bool
	cmd := &cobra.Command{
		Use:   "submit <job-file>",
		Short: "Submit a job for remote execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readJobDefinition(args[0])
			if err != nil {
				return err
			}
			opts := client.CreateJobOptions{
				Visibility:               domain.Visibility(visibility),
				InitialResultsVisibility: domain.Visibility(resultsVisibility),
				Iterations:               iterations,
				Fresh:                    fresh,
			}
			if description != "" {
				opts.Description = &description
			}
			info, err := newClient().CreateJob(cmd.Context(), job, opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(info)
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "job description")
	cmd.Flags().StringVar(&visibility, "visibility", "unlisted", "job visibility")
	cmd.Flags().StringVar(&resultsVisibility, "results-visibility", "unlisted", "initial results visibility")
	cmd.Flags().IntVar(&iterations, "iterations", 1, "iterations per interview")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "bypass cached results")
	return cmd
}

func jobStatusCmd() *cobra.Command {
	var resultsUUID string
	var includeJSON bool
	cmd := &cobra.Command{
		Use:   "status [job-uuid]",
		Short: "Fetch a job snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobUUID := ""
			if len(args) == 1 {
				jobUUID = args[0]
			}
			job, err := newClient().GetJob(cmd.Context(), jobUUID, resultsUUID, includeJSON)
			if err != nil {
				return err
			}
			return printJSONOrTable(job)
		},
	}
	cmd.Flags().StringVar(&resultsUUID, "results-uuid", "", "look the job up by its results uuid")
	cmd.Flags().BoolVar(&includeJSON, "include-json", false, "include the serialized job definition")
	return cmd
}

func jobListCmd() *cobra.Command {
	var statuses []string
	var search string
	var page, pageSize int
	var ascending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.ListJobsOptions{
				SearchQuery:   search,
				Page:          page,
				PageSize:      pageSize,
				SortAscending: ascending,
			}
			for _, s := range statuses {
				opts.Statuses = append(opts.Statuses, domain.JobStatus(s))
			}
			jobs, err := newClient().ListJobs(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(jobs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"UUID", "Status", "Description", "Iterations", "Created"})
			for _, j := range jobs {
				tw.AppendRow(table.Row{j.UUID, j.Status, deref(j.Description), j.Iterations, j.CreatedTS})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status")
	cmd.Flags().StringVarP(&search, "search", "s", "", "search descriptions")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "page size (max 100)")
	cmd.Flags().BoolVar(&ascending, "ascending", false, "oldest first")
	return cmd
}

func jobCostCmd() *cobra.Command {
	var iterations int
	cmd := &cobra.Command{
		Use:   "cost <job-file>",
		Short: "Estimate a job's cost before submitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readJobDefinition(args[0])
			if err != nil {
				return err
			}
			cost, err := newClient().EstimateCost(cmd.Context(), job, iterations)
			if err != nil {
				return err
			}
			return printJSONOrTable(cost)
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 1, "iterations per interview")
	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in interactively and store an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := newClient().Login(cmd.Context())
			return err
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show your credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := newClient().Balance(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(balance)
		},
	}
}

func giftCmd() *cobra.Command {
	var note string
	var credits int
	cmd := &cobra.Command{
		Use:   "gift <recipient-username>",
		Short: "Transfer credits to another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if credits <= 0 {
				return fmt.Errorf("--credits must be positive")
			}
			result, err := newClient().TransferCredits(cmd.Context(), credits, args[0], note)
			if err != nil {
				return err
			}
			return printJSONOrTable(result)
		},
	}
	cmd.Flags().IntVar(&credits, "credits", 0, "number of credits to transfer")
	cmd.Flags().StringVar(&note, "note", "", "note attached to the transfer")
	return cmd
}

func modelsCmd() *cobra.Command {
	var working bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if !working {
				models, err := c.FetchModels(cmd.Context())
				if err != nil {
					return err
				}
				return printJSONOrTable(models)
			}
			models, err := c.FetchWorkingModels(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(models)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Service", "Model", "Text", "Images", "$/1M in", "$/1M out"})
			for _, m := range models {
				tw.AppendRow(table.Row{m.Service, m.Model, m.WorksWithText, m.WorksWithImages, m.USDPer1MInput, m.USDPer1MOutput})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&working, "working", false, "list working models with prices")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, publicURL, workspace string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local Aviary API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Options{Dir: filepath.Join(workspace, ".aviary")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			if publicURL == "" {
				publicURL = "http://" + addr
			}
			handler, err := server.New(server.Config{
				Repo:      r,
				PublicURL: publicURL,
				JWTSecret: os.Getenv("AVIARY_JWT_SECRET"),
			})
			if err != nil {
				return err
			}

			if _, err := r.GetUserByUsername(cmd.Context(), "local"); errors.Is(err, repo.ErrNotFound) {
				key, err := server.SeedUser(r, "local", 1000)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded local user with API key: %s\n", key)
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Aviary API on http://%s (OpenAPI at /openapi.json, docs at /docs)\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8000", "listen address")
	cmd.Flags().StringVar(&publicURL, "public-url", "", "externally reachable base URL (defaults to the listen address)")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	return cmd
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

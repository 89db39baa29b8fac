package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tallycrm/tally/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		format     string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI description of the REST API",
		Long: `Generate the OpenAPI 3 document served at /openapi.json without starting
the server, for client generators and API gateways.`,
		Example: `  tally openapi                                   # JSON to stdout
  tally openapi --format yaml -o tally.yaml
  tally openapi --base-url https://crm.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(baseURL, format, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server URL to list in the document")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")

	return cmd
}

func runOpenAPI(baseURL, format, outputFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	doc := openapi.Generate(openapi.Options{
		BaseURL:      baseURL,
		APIKeyHeader: cfg.Auth.APIKeyHeader,
		Version:      versionString(),
	})

	var out []byte
	switch format {
	case "json":
		out, err = json.MarshalIndent(doc, "", "  ")
	case "yaml", "yml":
		out, err = yaml.Marshal(doc)
	default:
		return fmt.Errorf("unsupported format %q; use json or yaml", format)
	}
	if err != nil {
		return fmt.Errorf("render openapi document: %w", err)
	}

	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create %s: %w", outputFile, err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	if format == "json" {
		fmt.Fprintln(w)
	}
	if outputFile != "" {
		fmt.Fprintf(os.Stderr, "Wrote %s\n", outputFile)
	}
	return nil
}

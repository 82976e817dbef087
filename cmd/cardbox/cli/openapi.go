package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardbox/cardbox/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		format     string
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3.1 specification for the Cardbox API, covering the
admin, ingest, and card-facing endpoints with their security schemes.`,
		Example: `  cardbox openapi                       # JSON to stdout
  cardbox openapi --format yaml         # YAML to stdout
  cardbox openapi -o openapi.json       # write to file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(format, baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server base URL embedded in the spec")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")

	return cmd
}

func runOpenAPI(format, baseURL, outputFile string) error {
	spec := openapi.GenerateSpec(baseURL)

	var out []byte
	switch format {
	case "json":
		b, err := json.MarshalIndent(spec, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal spec: %w", err)
		}
		out = append(b, '\n')
	case "yaml":
		// Round-trip through JSON so the kin-openapi marshalers apply.
		b, err := json.Marshal(spec)
		if err != nil {
			return fmt.Errorf("marshal spec: %w", err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("decode spec: %w", err)
		}
		out, err = yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal spec to yaml: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format %q; use 'json' or 'yaml'", format)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, out, 0644); err != nil {
			return fmt.Errorf("write %s: %w", outputFile, err)
		}
		fmt.Printf("Wrote %s\n", outputFile)
		return nil
	}

	fmt.Print(string(out))
	return nil
}

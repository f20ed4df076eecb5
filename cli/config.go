package cli

import (
	"encoding/json"

	"github.com/urfave/cli/v2"

	"github.com/GiovanniPag/pyNect/config"
)

// ConfigSchemaAction prints the JSON schema of the configuration file.
func ConfigSchemaAction(c *cli.Context) error {
	return printJSON(c, config.Schema())
}

// ConfigDefaultAction prints the configuration used when no file is given.
func ConfigDefaultAction(c *cli.Context) error {
	return printJSON(c, config.Default())
}

func printJSON(c *cli.Context, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", data)
	return nil
}

package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/store"
	"github.com/spf13/cobra"
)

// errNoData is returned when a profile has never been started.
var errNoData = errors.New("profile has no database yet; start dmsyncd or dmsync first")

func profileName(cmd *cobra.Command) (string, error) {
	flag, _ := cmd.Flags().GetString("profile")
	name := session.Resolve(flag)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func jsonMode(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// openStore opens an existing profile database without creating one.
func openStore(profile string) (*store.DB, error) {
	path := session.DBPath(profile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errNoData
		}
		return nil, err
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

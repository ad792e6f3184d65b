package settings

import (
	"database/sql"

	"github.com/HerbHall/portward/pkg/plugin"
)

// migrations returns the settings schema migrations in ascending order.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create forwarding settings tables",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS forward_settings (
						id                   INTEGER  PRIMARY KEY CHECK (id = 1),
						enable_forwarding    INTEGER  NOT NULL,
						enable_remote_access INTEGER  NOT NULL,
						public_http_port     INTEGER  NOT NULL,
						public_https_port    INTEGER  NOT NULL,
						updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)
				`)
				if err != nil {
					return err
				}

				_, err = tx.Exec(`
					CREATE TABLE IF NOT EXISTS forward_settings_revisions (
						id         TEXT     PRIMARY KEY,
						snapshot   TEXT     NOT NULL,
						changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)
				`)
				if err != nil {
					return err
				}

				d := Defaults()
				_, err = tx.Exec(`
					INSERT OR IGNORE INTO forward_settings
						(id, enable_forwarding, enable_remote_access, public_http_port, public_https_port)
					VALUES (1, ?, ?, ?, ?)`,
					d.EnableForwarding, d.EnableRemoteAccess, d.PublicHTTPPort, d.PublicHTTPSPort,
				)
				return err
			},
		},
	}
}

package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id SERIAL PRIMARY KEY,
            type TEXT NOT NULL,
            job_ref TEXT,
            pair_key TEXT,
            last_seq INT NOT NULL DEFAULT 0,
            last_message_seq INT,
            last_message_sender INT,
            last_message_preview TEXT,
            last_message_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		// One direct room per unordered participant pair; one job room per job.
		`CREATE UNIQUE INDEX IF NOT EXISTS rooms_direct_pair_key
            ON rooms (pair_key) WHERE type = 'direct';`,
		`CREATE UNIQUE INDEX IF NOT EXISTS rooms_job_ref_key
            ON rooms (job_ref) WHERE type = 'job';`,
		`CREATE TABLE IF NOT EXISTS room_participants (
            room_id INT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            PRIMARY KEY (room_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS room_participants_user
            ON room_participants (user_id);`,
		`CREATE TABLE IF NOT EXISTS messages (
            room_id INT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            seq INT NOT NULL,
            sender_id INT NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (room_id, seq)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Info().Msg("database migrations applied")
	return nil
}

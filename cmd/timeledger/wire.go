package main

import (
	"fmt"
	"os"
	"path/filepath"

	"timeledger/internal/app"
	"timeledger/internal/clockify"
	"timeledger/internal/config"
	"timeledger/internal/ics"
	"timeledger/internal/mail"
	"timeledger/internal/model"
	"timeledger/internal/store"
)

// components are the collaborators built from the loaded config.
type components struct {
	app   *app.App
	store *store.Store
}

func (c *components) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), 0o700); err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.DBPath, err)
	}
	return st, nil
}

// build wires every component. Calendar and mail sources are optional; the
// tracker is required by every operation but import and listing.
func build(cfg *config.Config) (*components, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	c := &components{store: st}

	filter := model.NewDomainFilter(cfg.Owner.Email, cfg.Domains.Internal, cfg.Domains.InternalSubstrings)

	a := &app.App{
		Store:    st,
		Role:     cfg.Role(),
		Lookback: cfg.Lookback(),
		Options:  cfg.EngineOptions(),
		LockPath: cfg.Store.LockPath,
	}

	if len(cfg.Meetings.ICS) > 0 {
		sources := make([]ics.Source, 0, len(cfg.Meetings.ICS))
		for _, s := range cfg.Meetings.ICS {
			id := s.ID
			if id == "" {
				id = s.Name
			}
			if id == "" {
				id = s.URL
			}
			sources = append(sources, ics.Source{ID: id, URL: s.URL})
		}
		cacheDir := filepath.Join(filepath.Dir(cfg.Store.DBPath), "ics-cache")
		a.Meetings = ics.NewCalendar(ics.NewFetcher(cacheDir, cfg.Clockify.Timeout), sources, ics.CalendarOptions{
			OwnerEmail: cfg.Owner.Email,
			Filter:     filter,
			MaxEvents:  cfg.Meetings.MaxEvents,
			Location:   cfg.Location(),
		})
	}

	if cfg.Mail.Dir != "" {
		a.Emails = mail.NewMaildir(cfg.Mail.Dir, mail.Options{
			OwnerEmail:   cfg.Owner.Email,
			Filter:       filter,
			SkipSubjects: cfg.Mail.SkipSubjects,
			MaxMessages:  cfg.Mail.MaxMessages,
		})
	}

	if cfg.Clockify.WorkspaceID != "" {
		client, err := clockify.New(clockify.Options{
			BaseURL:     cfg.Clockify.BaseURL,
			WorkspaceID: cfg.Clockify.WorkspaceID,
			UserID:      cfg.Clockify.UserID,
			APIKey:      cfg.Clockify.APIKey,
			PageSize:    cfg.Clockify.PageSize,
			MaxPages:    cfg.Clockify.MaxPages,
			Timeout:     cfg.Clockify.Timeout,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		a.Tracker = client
	}

	c.app = a
	return c, nil
}

// requireTracker fails operations that talk to the time-tracking service
// when it is not configured.
func (c *components) requireTracker() error {
	if c.app.Tracker == nil {
		return fmt.Errorf("clockify.workspace_id is not configured")
	}
	return nil
}

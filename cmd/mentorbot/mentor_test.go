package main

import (
	"context"
	"strings"
	"testing"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

func seedMentors(t *testing.T, dsn string) {
	t.Helper()
	seed(t, dsn, func(ctx context.Context, s *store.Store) {
		for _, m := range []*models.Mentor{
			{UserID: "M1", DisplayName: "Alice", Availability: models.AvailabilityAvailable},
			{UserID: "M2", DisplayName: "Bob", Availability: models.AvailabilityOffline},
		} {
			if err := s.UpsertMentor(ctx, m); err != nil {
				t.Fatal(err)
			}
		}
	})
}

func TestMentorListCmd(t *testing.T) {
	path, dsn := writeConfig(t)
	seedMentors(t, dsn)

	out, err := run(t, "mentor", "list", "--config", path)
	if err != nil {
		t.Fatalf("mentor list: %v\n%s", err, out)
	}
	for _, want := range []string{"USER", "M1", "Alice", "M2", "offline"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "mentor", "list", "--available", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Alice") || strings.Contains(out, "Bob") {
		t.Errorf("--available output wrong:\n%s", out)
	}
}

func TestMentorListCmd_Empty(t *testing.T) {
	path, dsn := writeConfig(t)
	seed(t, dsn, func(context.Context, *store.Store) {})

	out, err := run(t, "mentor", "list", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No mentors registered.") {
		t.Errorf("output = %s", out)
	}
}

func TestMentorSetCmd(t *testing.T) {
	path, dsn := writeConfig(t)
	seedMentors(t, dsn)

	out, err := run(t, "mentor", "set", "M2", "busy", "--config", path)
	if err != nil {
		t.Fatalf("mentor set: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Mentor M2 is now busy") {
		t.Errorf("output = %s", out)
	}
	seed(t, dsn, func(ctx context.Context, s *store.Store) {
		m, err := s.GetMentor(ctx, "M2")
		if err != nil {
			t.Fatal(err)
		}
		if m.Availability != models.AvailabilityBusy {
			t.Errorf("availability = %q, want busy", m.Availability)
		}
	})
}

func TestMentorSetCmd_Rejections(t *testing.T) {
	path, dsn := writeConfig(t)
	seedMentors(t, dsn)

	if _, err := run(t, "mentor", "set", "M1", "asleep", "--config", path); err == nil || !strings.Contains(err.Error(), "availability must be") {
		t.Errorf("bad availability error = %v", err)
	}
	if _, err := run(t, "mentor", "set", "M9", "busy", "--config", path); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown mentor error = %v", err)
	}
}

package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"torrentstream/qbtcontrol/internal/domain"
)

type failingStore struct{ err error }

func (f failingStore) Load(context.Context) (domain.ConnectionSettings, bool, error) {
	return domain.ConnectionSettings{}, false, f.err
}

func (f failingStore) Save(context.Context, domain.ConnectionSettings) error {
	return f.err
}

func ptr(s string) *string { return &s }

func TestCurrentReturnsSeedUntilUpdated(t *testing.T) {
	svc := NewService(domain.ConnectionSettings{Host: " http://qbt:8080/ ", Username: "admin", Password: "secret"}, nil)

	current, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Host != "http://qbt:8080" || current.Password != "secret" {
		t.Fatalf("unexpected seed: %+v", current)
	}
}

func TestUpdatePersistsAndRedacts(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(domain.ConnectionSettings{Host: "http://qbt:8080", Username: "admin", Password: "secret"}, store)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }

	view, err := svc.Update(context.Background(), domain.ConnectionSettingsPatch{Host: ptr("https://remote:9090/")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if view.Host != "https://remote:9090" || view.Username != "admin" || !view.HasPassword {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.UpdatedAt != 1700000000000 {
		t.Fatalf("unexpected updatedAt: %d", view.UpdatedAt)
	}

	stored, found, _ := store.Load(context.Background())
	if !found || stored.Password != "secret" || stored.Host != "https://remote:9090" {
		t.Fatalf("unexpected stored settings: %+v found=%v", stored, found)
	}

	current, _ := svc.Current(context.Background())
	if current.Host != "https://remote:9090" {
		t.Fatalf("expected override to win over seed, got %q", current.Host)
	}
}

func TestUpdateClearsPassword(t *testing.T) {
	svc := NewService(domain.ConnectionSettings{Host: "qbt:8080", Password: "secret"}, nil)
	view, err := svc.Update(context.Background(), domain.ConnectionSettingsPatch{Password: ptr("")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if view.HasPassword {
		t.Fatal("expected password to be cleared")
	}
}

func TestUpdateRejectsInvalidHost(t *testing.T) {
	tests := []string{"", "   ", "ftp://qbt", "http://"}
	for _, host := range tests {
		svc := NewService(domain.ConnectionSettings{Host: "http://qbt:8080"}, nil)
		_, err := svc.Update(context.Background(), domain.ConnectionSettingsPatch{Host: ptr(host)})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("host %q: expected ErrInvalidArgument, got %v", host, err)
		}
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("redis down")
	svc := NewService(domain.ConnectionSettings{Host: "http://qbt:8080"}, failingStore{err: boom})

	if _, err := svc.Current(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, err := svc.Get(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

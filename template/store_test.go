package template

import (
	"errors"
	"testing"
)

func TestRender(t *testing.T) {
	store := NewStore(Template{
		Name:    "welcome",
		Subject: "Welcome, {name}!",
		Body:    "Hi {name}, your account {email} is ready.",
	})

	subject, body, err := store.Render("welcome", map[string]string{
		"name":  "Alice",
		"email": "alice@example.com",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Welcome, Alice!" {
		t.Errorf("subject = %q", subject)
	}
	if body != "Hi Alice, your account alice@example.com is ready." {
		t.Errorf("body = %q", body)
	}
}

func TestRenderMissingTokenLeftInPlace(t *testing.T) {
	store := NewStore(Template{
		Name:    "reminder",
		Subject: "Reminder for {name}",
		Body:    "Due on {due_date}.",
	})

	subject, body, err := store.Render("reminder", map[string]string{"name": "Bob"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Reminder for Bob" {
		t.Errorf("subject = %q", subject)
	}
	if body != "Due on {due_date}." {
		t.Errorf("missing token should stay verbatim, got %q", body)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	store := NewStore()

	_, _, err := store.Render("nope", nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Name != "nope" {
		t.Errorf("Name = %q", nf.Name)
	}
}

func TestRenderNilData(t *testing.T) {
	store := NewStore(Template{Name: "plain", Subject: "Hello", Body: "No tokens here"})

	subject, body, err := store.Render("plain", nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Hello" || body != "No tokens here" {
		t.Errorf("got %q / %q", subject, body)
	}
}

func TestPutReplaces(t *testing.T) {
	store := NewStore(Template{Name: "t", Subject: "old", Body: "old"})
	store.Put(Template{Name: "t", Subject: "new", Body: "new"})

	got, err := store.Get("t")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Subject != "new" {
		t.Errorf("Subject = %q", got.Subject)
	}
}

func TestListSorted(t *testing.T) {
	store := NewStore(
		Template{Name: "b"},
		Template{Name: "a"},
		Template{Name: "c"},
	)

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].Name != "a" || list[1].Name != "b" || list[2].Name != "c" {
		t.Errorf("not sorted: %v", list)
	}
}

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/testutil"
	"github.com/fjmerc/partstream/internal/utils"
)

// sharedRepos hands commands the test repositories without letting them close the database
func sharedRepos(repos *repository.Repositories) repoOpener {
	return func(context.Context) (*repository.Repositories, error) {
		shared := *repos
		shared.Cleanup = nil
		return &shared, nil
	}
}

func runCmd(t *testing.T, open repoOpener, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd(open)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCreateToken(t *testing.T) {
	repos := testutil.SetupTestRepos(t)

	token, rec, err := createToken(context.Background(), repos.APITokens, "user-1", "ci", 48*time.Hour)
	if err != nil {
		t.Fatalf("createToken: %v", err)
	}
	if !utils.ValidateAPITokenFormat(token) {
		t.Errorf("token %q has invalid format", utils.MaskToken(token))
	}
	if rec.ExpiresAt == nil || time.Until(*rec.ExpiresAt) < 47*time.Hour {
		t.Errorf("ExpiresAt = %v, want about 48h from now", rec.ExpiresAt)
	}

	stored, err := repos.APITokens.GetByHash(context.Background(), utils.HashAPIToken(token))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if stored.OwnerID != "user-1" || stored.Name != "ci" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestCreateToken_Validation(t *testing.T) {
	repos := testutil.SetupTestRepos(t)

	if _, _, err := createToken(context.Background(), repos.APITokens, "", "ci", 0); err == nil {
		t.Error("expected error for empty owner")
	}
	if _, _, err := createToken(context.Background(), repos.APITokens, "user-1", "ci", -time.Hour); err == nil {
		t.Error("expected error for negative expiry")
	}
}

func TestCommands(t *testing.T) {
	repos := testutil.SetupTestRepos(t)
	open := sharedRepos(repos)

	out, err := runCmd(t, open, "create", "--owner", "user-1", "--name", "laptop")
	if err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	testutil.AssertContains(t, out, utils.APITokenPrefix)

	out, err = runCmd(t, open, "list", "--owner", "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	testutil.AssertContains(t, out, "laptop")
	testutil.AssertContains(t, out, "never")

	list, err := repos.APITokens.ListByOwner(context.Background(), "user-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByOwner = %v, %v", list, err)
	}

	out, err = runCmd(t, open, "revoke", "--id", "1")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	testutil.AssertContains(t, out, "Revoked token 1")

	if _, err := runCmd(t, open, "revoke", "--id", "99"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("revoke unknown id error = %v, want ErrNotFound", err)
	}
}

func TestCreateCommand_RequiresOwner(t *testing.T) {
	repos := testutil.SetupTestRepos(t)

	_, err := runCmd(t, sharedRepos(repos), "create")
	if err == nil || !strings.Contains(err.Error(), "owner") {
		t.Errorf("error = %v, want missing owner flag", err)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jrsteele09/imhotep-client/callback"
	"github.com/jrsteele09/imhotep-client/internal/errors"
	"github.com/jrsteele09/imhotep-client/signin"
)

// How long a browser flow may take before the CLI gives up.
const browserFlowTimeout = 5 * time.Minute

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "login":
		return a.login(ctx, args)
	case "google-login":
		return a.googleLogin(ctx)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami()
	case "finance-connect":
		return a.financeConnect(ctx)
	case "finance-status":
		return a.financeStatus(ctx)
	case "currencies":
		return a.currencies(ctx)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	username := fs.String("u", "", "username or email")
	password := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return fmt.Errorf("login needs -u and -p: %w", errors.ErrInvalidRequest)
	}

	user, err := a.signin.Login(ctx, *username, *password)
	if err != nil {
		var loginErr *signin.LoginError
		if errors.As(err, &loginErr) && loginErr.NeedsVerification {
			fmt.Fprintln(a.out, "Please verify your email. A verification code has been sent.")
		}
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", displayName(user.Username, user.Email))
	return nil
}

func (a *app) googleLogin(ctx context.Context) error {
	params, err := a.browserFlow(ctx, func(ctx context.Context) error {
		authURL, err := a.signin.GoogleAuthURL(ctx, signin.PlatformDesktop)
		if err != nil {
			return err
		}
		return a.navigator.Open(authURL)
	})
	if err != nil {
		return err
	}
	if params.Error != "" {
		return errors.NewExternalAuthorizationError(params.Error, params.ErrorDescription)
	}

	user, isNew, err := a.signin.GoogleAuthenticate(ctx, params.Code)
	if err != nil {
		return err
	}
	if isNew {
		fmt.Fprintf(a.out, "Welcome, %s! Your account was created.\n", displayName(user.Username, user.Email))
		return nil
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", displayName(user.Username, user.Email))
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.signin.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func (a *app) whoami() error {
	user := a.session.User()
	if user == nil {
		return errors.ErrNotAuthenticated
	}
	fmt.Fprintf(a.out, "%s (id %d)\n", displayName(user.Username, user.Email), user.ID)
	if name := strings.TrimSpace(user.FirstName + " " + user.LastName); name != "" {
		fmt.Fprintf(a.out, "name:     %s\n", name)
	}
	if user.Email != "" {
		fmt.Fprintf(a.out, "email:    %s\n", user.Email)
	}
	if exp, ok := a.session.AccessTokenExpiry(); ok {
		fmt.Fprintf(a.out, "token expires: %s\n", exp.Local().Format(time.RFC1123))
	}
	return nil
}

func (a *app) financeConnect(ctx context.Context) error {
	if !a.session.IsAuthenticated() {
		return errors.ErrNotAuthenticated
	}
	params, err := a.browserFlow(ctx, a.finance.BeginConnection)
	if err != nil {
		return err
	}
	result, err := a.finance.CompleteConnection(ctx, params.Code, params.Error, params.ErrorDescription)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, result.Message)
	return nil
}

func (a *app) financeStatus(ctx context.Context) error {
	status, err := a.finance.RefreshStatus(ctx)
	if err != nil {
		return err
	}
	if !status.Usable() {
		fmt.Fprintln(a.out, "Not connected to Imhotep Finance")
		return nil
	}
	fmt.Fprintln(a.out, "Connected to Imhotep Finance")
	if status.Scopes != "" {
		fmt.Fprintf(a.out, "Granted scopes: %s\n", status.Scopes)
	}
	if status.ExpiresAt != nil {
		fmt.Fprintf(a.out, "Token expires: %s\n", status.ExpiresAt.Local().Format(time.RFC1123))
	}
	return nil
}

func (a *app) currencies(ctx context.Context) error {
	fmt.Fprintln(a.out, strings.Join(a.finance.Currencies(ctx), " "))
	return nil
}

// browserFlow listens for the redirect, runs start to send the user to the
// provider, and waits for the redirect to come back.
func (a *app) browserFlow(ctx context.Context, start func(context.Context) error) (callback.Params, error) {
	receiver, err := callback.Listen(a.cfg.GetCallbackAddr())
	if err != nil {
		return callback.Params{}, err
	}
	defer receiver.Close()

	if err := start(ctx); err != nil {
		return callback.Params{}, err
	}
	fmt.Fprintf(a.out, "Waiting for the browser to return to %s ...\n", receiver.RedirectURL())

	ctx, cancel := context.WithTimeout(ctx, browserFlowTimeout)
	defer cancel()
	return receiver.Wait(ctx)
}

func displayName(username, email string) string {
	if username != "" {
		return username
	}
	return email
}

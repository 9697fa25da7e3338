package lockguard_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/lockguard"
	"github.com/MrEthical07/lockguard/store/memstore"
)

func Example() {
	cfg := lockguard.DefaultConfig()
	cfg.Security.HashSaltFactor = 4
	cfg.Security.MaxFailedLoginAttempts = 3

	engine, err := lockguard.New().
		WithConfig(cfg).
		WithStore(memstore.New()).
		Build()
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx := context.Background()
	if _, err := engine.CreateAccount(ctx, lockguard.SignupRequest{
		Username: "alice@example.com",
		Password: "correct horse",
	}); err != nil {
		panic(err)
	}

	for range 3 {
		_, err := engine.Authenticate(ctx, lockguard.Credentials{
			Username: "alice@example.com",
			Password: "wrong",
		})
		fmt.Println(err)
	}

	_, err = engine.Authenticate(ctx, lockguard.Credentials{
		Username: "alice@example.com",
		Password: "correct horse",
	})
	fmt.Println(errors.Is(err, lockguard.ErrAccountLocked))

	// Output:
	// Password incorrect. Your account will be locked after 2 more failed attempts.
	// Password incorrect. Your account will be locked after 1 more failed attempts.
	// Too many failed attempts. This account will be locked for 30 minutes.
	// true
}

func ExampleEngine_ConfirmPasswordReset() {
	cfg := lockguard.DefaultConfig()
	cfg.Security.HashPassword = false

	engine, err := lockguard.New().WithConfig(cfg).WithStore(memstore.New()).Build()
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx := context.Background()
	if _, err := engine.CreateAccount(ctx, lockguard.SignupRequest{Username: "bob", Password: "old"}); err != nil {
		panic(err)
	}

	rec, err := engine.RequestPasswordReset(ctx, "bob")
	if err != nil {
		panic(err)
	}
	token := rec.PasswordResetToken

	if _, err := engine.ConfirmPasswordReset(ctx, token, "new"); err != nil {
		panic(err)
	}
	_, err = engine.ConfirmPasswordReset(ctx, token, "newer")
	fmt.Println(err)

	_, err = engine.Authenticate(ctx, lockguard.Credentials{Username: "bob", Password: "new"})
	fmt.Println(err == nil)

	// Output:
	// This token does not exist. Please try again.
	// true
}

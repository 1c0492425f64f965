// Command token mints a bearer token signed with JWT_SECRET, for operators
// and for local testing against the API.
package main

import (
	"flag"
	"fmt"
	"os"

	"contest_judge/internal/common/security"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/platform/config"
)

func main() {
	userID := flag.String("user", "", "user id to put in the token")
	role := flag.String("role", model.RoleUser, "role claim: user or admin")
	flag.Parse()

	if *userID == "" || (*role != model.RoleUser && *role != model.RoleAdmin) {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	token, err := security.NewTokens(cfg.JWTKey, cfg.JWTTTL).GenerateToken(*userID, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}

package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/auth"
)

// mktoken prints a signed bearer token for the trigger endpoints.
// Deployments without an identity provider use it to hand tokens to
// operators and calling services. The signing secret comes from
// JWT_SECRET in the environment.
func main() {
	id := flag.String("id", "", "caller id")
	name := flag.String("name", "", "caller display name")
	roles := flag.String("roles", "", "comma-separated role ids")
	signed := flag.Bool("signed", false, "mark the caller as a signed machine caller")
	flag.Parse()

	if *id == "" {
		log.Fatal("Usage: mktoken --id <caller-id> [--name <name>] [--roles r1,r2] [--signed]")
	}

	session := auth.CallerSession{ID: *id, Name: *name, Signed: *signed}
	for _, role := range strings.Split(*roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			session.Roles = append(session.Roles, role)
		}
	}

	token, err := auth.GenerateToken(session)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	fmt.Println(token)
}

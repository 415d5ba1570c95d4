package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "hash-password":
		fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
		useArgon2 := fs.Bool("argon2id", false, "emit an argon2id hash instead of bcrypt")
		_ = fs.Parse(os.Args[2:])
		err = runHashPassword(os.Stdin, os.Stdout, *useArgon2)
	case "roles":
		path := ""
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		err = runRoles(path, os.Stdout)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// runHashPassword reads one password line from in and prints its hash.
func runHashPassword(in io.Reader, out io.Writer, useArgon2 bool) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	var hash string
	if useArgon2 {
		hash, err = session.HashPasswordArgon2(password)
	} else {
		hash, err = session.HashPassword(password)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// runRoles prints the effective role table, highest rank first.
func runRoles(path string, out io.Writer) error {
	roles := auth.DefaultRoleTable()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if roles, err = auth.LoadRoleTable(f); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tRANK\tKIND\tPERMISSIONS")
	for _, e := range roles.Entries() {
		perms := make([]string, 0, len(e.Permissions))
		for _, p := range e.Permissions {
			perms = append(perms, string(p))
		}
		if roles.IsTopRank(e.Role) {
			perms = []string{"*"}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Role, e.Rank, e.Kind, strings.Join(perms, ","))
	}
	return tw.Flush()
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s hash-password [-argon2id] < password | roles [table.yaml]\n", os.Args[0])
	os.Exit(1)
}

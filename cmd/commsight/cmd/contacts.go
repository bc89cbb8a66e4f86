package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/commsight/commsight/internal/contacts"
)

var (
	contactsRelationship string
	contactsTop          int
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Inspect and tag a user's contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list <email>",
	Short: "List a user's contacts",
	Long: `List the canonical contacts derived for a user.

Examples:
  commsight contacts list you@acme.com
  commsight contacts list you@acme.com --relationship client
  commsight contacts list you@acme.com --top 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		user, err := s.GetUser(args[0])
		if err != nil {
			return err
		}

		profiles, err := s.ListContacts(user.ID)
		if err != nil {
			return fmt.Errorf("list contacts: %w", err)
		}

		if contactsRelationship != "" {
			filtered := profiles[:0]
			for _, p := range profiles {
				if p.Relationship == contactsRelationship {
					filtered = append(filtered, p)
				}
			}
			profiles = filtered
		}

		if contactsTop > 0 {
			sort.SliceStable(profiles, func(i, j int) bool {
				return profiles[i].Weight > profiles[j].Weight
			})
			if len(profiles) > contactsTop {
				profiles = profiles[:contactsTop]
			}
		}

		if len(profiles) == 0 {
			fmt.Println("No contacts found.")
			return nil
		}

		fmt.Printf("%-35s %-25s %-13s %-8s %s\n", "EMAIL", "NAME", "RELATIONSHIP", "WEIGHT", "VARIANTS")
		for _, p := range profiles {
			scope := "external"
			if p.IsInternal {
				scope = "internal"
			}
			fmt.Printf("%-35s %-25s %-13s %-8.1f %d (%s)\n",
				p.CanonicalEmail, p.DisplayName, p.Relationship, p.Weight, len(p.Addresses), scope)
		}
		fmt.Printf("\n%d contact(s)\n", len(profiles))

		return nil
	},
}

var contactsTagCmd = &cobra.Command{
	Use:   "tag <email> <contact> <relationship>",
	Short: "Tag a contact with a relationship type",
	Long: fmt.Sprintf(`Tag one of a user's contacts with a relationship type.

Valid types: %s

The tag survives pipeline runs, including full rebuilds.

Example:
  commsight contacts tag you@acme.com alice@client.io client`,
		strings.Join([]string{
			contacts.RelationshipManager, contacts.RelationshipDirectReport,
			contacts.RelationshipClient, contacts.RelationshipVendor,
			contacts.RelationshipTeam, contacts.RelationshipOther,
		}, ", ")),
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, contact, relationship := args[0], args[1], args[2]

		if !contacts.ValidRelationship(relationship) {
			return fmt.Errorf("invalid relationship type %q", relationship)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		user, err := s.GetUser(email)
		if err != nil {
			return err
		}

		if err := s.SetContactRelationship(user.ID, contact, relationship); err != nil {
			return err
		}

		fmt.Printf("Tagged %s as %s\n", contact, relationship)
		return nil
	},
}

var contactsWeightCmd = &cobra.Command{
	Use:   "weight <email> <contact> <weight>",
	Short: "Assign an importance weight to a contact",
	Long: `Assign an importance weight to one of a user's contacts.

The weight survives pipeline runs, including full rebuilds.

Example:
  commsight contacts weight you@acme.com alice@client.io 2.5`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, contact := args[0], args[1]

		weight, err := strconv.ParseFloat(args[2], 64)
		if err != nil || weight < 0 {
			return fmt.Errorf("invalid weight %q: must be a non-negative number", args[2])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		user, err := s.GetUser(email)
		if err != nil {
			return err
		}

		if err := s.SetContactWeight(user.ID, contact, weight); err != nil {
			return err
		}

		fmt.Printf("Set weight of %s to %.1f\n", contact, weight)
		return nil
	},
}

func init() {
	contactsListCmd.Flags().StringVar(&contactsRelationship, "relationship", "", "filter by relationship type")
	contactsListCmd.Flags().IntVar(&contactsTop, "top", 0, "show only the N highest-weighted contacts")

	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsTagCmd)
	contactsCmd.AddCommand(contactsWeightCmd)
	rootCmd.AddCommand(contactsCmd)
}

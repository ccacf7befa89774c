package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/federation"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTokenCmd(g *globalOpts) *cobra.Command {
	var (
		mode   string
		sa     string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a federated GCP access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rm, err := cloudauth.ParseRefreshMode(mode)
			if err != nil {
				return err
			}
			e, err := g.engine(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := e.NewRecord(&cloudauth.GCPCredInfo{RefreshMode: rm, ServiceAccountEmail: sa})
			if err != nil {
				return err
			}
			tok, err := e.Token(cmd.Context(), rec)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"access_token": tok.AccessToken,
					"expire_time":  tok.Expiry.Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.Expiry.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(cloudauth.RefreshInternal), "Refresh mode (internal, external)")
	cmd.Flags().StringVar(&sa, "sa", "", "Target service account email")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newAzureTokenCmd(g *globalOpts) *cobra.Command {
	var (
		tenant string
		client string
		secret string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "azure-token",
		Short: "Print an Azure storage access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.engine(cmd.Context())
			if err != nil {
				return err
			}
			tok, err := e.AzureToken(cmd.Context(), tenant, client, secret)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"access_token": tok.AccessToken,
					"expires_on":   tok.ExpiresOn,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", time.Unix(tok.ExpiresOn, 0).UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Azure AD tenant ID")
	cmd.Flags().StringVar(&client, "client", "", "Azure AD application (client) ID")
	cmd.Flags().StringVar(&secret, "client-secret", os.Getenv("CROSSFED_AZURE_CLIENT_SECRET"), "Client secret; the identity pool assertion is used when empty")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func newWhoamiCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the AWS principal behind the workload credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.engine(cmd.Context())
			if err != nil {
				return err
			}
			id, err := e.Whoami(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account: %s\n", id.Account)
			fmt.Fprintf(out, "ARN:     %s\n", id.ARN)
			fmt.Fprintf(out, "UserID:  %s\n", id.UserID)
			if d := e.Descriptor(); d != nil {
				fmt.Fprintf(out, "Infra:   %s/%s\n", d.InfraType, d.Cloud)
			}
			return nil
		},
	}
}

// recordOpts describes a credential record on the command line.
type recordOpts struct {
	mode     string
	sa       string
	audience string
	tenant   string
	client   string
	secret   string
	account  string
	profile  string
	region   string
}

func (o *recordOpts) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.mode, "mode", string(cloudauth.RefreshInternal), "GCP refresh mode (internal, external)")
	f.StringVar(&o.sa, "sa", "", "GCP target service account email")
	f.StringVar(&o.audience, "audience", "", "GCP workload identity audience")
	f.StringVar(&o.tenant, "tenant", "", "Azure AD tenant ID")
	f.StringVar(&o.client, "client", "", "Azure AD application (client) ID")
	f.StringVar(&o.secret, "client-secret", os.Getenv("CROSSFED_AZURE_CLIENT_SECRET"), "Azure client secret")
	f.StringVar(&o.account, "account", "", "Azure storage account name")
	f.StringVar(&o.profile, "profile", "", "AWS shared config profile")
	f.StringVar(&o.region, "region", "", "AWS region")
}

func (o *recordOpts) info(vendor cloudauth.CloudProvider) (cloudauth.CredInfo, error) {
	switch vendor {
	case cloudauth.ProviderAWS:
		return &cloudauth.AWSCredInfo{Profile: o.profile, Region: o.region}, nil
	case cloudauth.ProviderGCP:
		rm, err := cloudauth.ParseRefreshMode(o.mode)
		if err != nil {
			return nil, err
		}
		return &cloudauth.GCPCredInfo{RefreshMode: rm, ServiceAccountEmail: o.sa, Audience: o.audience}, nil
	default:
		return &cloudauth.AzureCredInfo{AccountName: o.account, TenantID: o.tenant, ClientID: o.client, ClientSecret: o.secret}, nil
	}
}

func newValidateCmd(g *globalOpts) *cobra.Command {
	ro := &recordOpts{}
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "validate <vendor>",
		Short: "Run health checks on a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vendor, err := cloudauth.ParseProvider(args[0])
			if err != nil {
				return err
			}
			info, err := ro.info(vendor)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			e, err := g.engine(ctx)
			if err != nil {
				return err
			}
			rec, err := e.NewRecord(info)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Validating %s credential\n", vendor)
			report := e.Validate(ctx, rec)
			printReport(out, report)
			if !report.IsValid() {
				return errValidationFailed
			}
			return nil
		},
	}
	ro.bind(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Validation timeout (e.g. 30s)")
	return cmd
}

func printReport(out io.Writer, report *cloudauth.ValidationReport) {
	fmt.Fprintln(out, "\n=== Validation Report ===")
	fmt.Fprintf(out, "Vendor: %s\n", report.Vendor)
	fmt.Fprintf(out, "Valid: %t\n", report.IsValid())
	fmt.Fprintf(out, "Checks: %d passed, %d failed, %d skipped\n",
		report.Summary.PassedChecks,
		report.Summary.FailedChecks,
		report.Summary.SkippedChecks)

	for _, check := range report.Checks {
		status := "✓"
		switch check.Status {
		case cloudauth.CheckStatusFailed:
			status = "✗"
		case cloudauth.CheckStatusSkipped:
			status = "○"
		}

		fmt.Fprintf(out, "\n%s %s [%s]\n", status, check.Name, check.Severity)
		if msg, ok := check.Evidence["error"]; ok {
			fmt.Fprintf(out, "  Error: %v\n", msg)
		}
		if check.Status == cloudauth.CheckStatusFailed && check.Remediation != "" {
			fmt.Fprintf(out, "  Remediation: %s\n", check.Remediation)
		}
	}
}

func newStorageCmd(g *globalOpts) *cobra.Command {
	var clientID, account string
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Operate on a client's remote storage",
	}
	cmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client whose storage to open (gcp, azure)")
	cmd.PersistentFlags().StringVar(&account, "account", "", "Azure storage account override")

	open := func(cmd *cobra.Command, vendor string) (*cloudauth.StorageSession, error) {
		e, err := g.engine(cmd.Context())
		if err != nil {
			return nil, err
		}
		return e.RemoteStorage(cmd.Context(), vendor, clientID, account)
	}

	ls := &cobra.Command{
		Use:   "ls <vendor> <bucket[/prefix]>",
		Short: "List objects",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			names, err := s.List(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}

	var outPath string
	get := &cobra.Command{
		Use:   "get <vendor> <bucket/key>",
		Short: "Download an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			r, err := s.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			defer r.Close()
			w := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err = io.Copy(w, r)
			return err
		},
	}
	get.Flags().StringVarP(&outPath, "out", "o", "", "Write to file instead of stdout")

	var inPath string
	put := &cobra.Command{
		Use:   "put <vendor> <bucket/key>",
		Short: "Upload an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if inPath != "" {
				f, err := os.Open(inPath)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return s.Put(cmd.Context(), args[1], r)
		},
	}
	put.Flags().StringVarP(&inPath, "file", "f", "", "Read from file instead of stdin")

	exists := &cobra.Command{
		Use:   "exists <vendor> <bucket/key>",
		Short: "Report whether an object exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			ok, err := s.Exists(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm <vendor> <bucket/key>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			return s.Remove(cmd.Context(), args[1])
		},
	}

	cmd.AddCommand(ls, get, put, exists, rm)
	return cmd
}

func newVendorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vendors",
		Short: "List vendors with a registered storage backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Available Vendors ===")
			fmt.Fprintf(out, "%-8s %-10s %s\n", "NAME", "REFRESH", "DEFAULT BUCKET")
			for _, p := range cloudauth.DefaultRegistry.Providers() {
				refresh := "yes"
				if p == cloudauth.ProviderAWS {
					refresh = "no"
				}
				fmt.Fprintf(out, "%-8s %-10s %s\n", p, refresh, federation.DataStore)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crossfed version %s\n", version)
			fmt.Fprintln(cmd.OutOrStdout(), "  Vendors: aws, gcp, azure")
		},
	}
}

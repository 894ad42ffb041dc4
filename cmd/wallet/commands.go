package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	cmdutils "github.com/trustbloc/cmdutil-go/pkg/utils/cmd"

	"github.com/kokukuma/mdoc-wallet/holder"
	"github.com/kokukuma/mdoc-wallet/internal/cryptoroot"
	"github.com/kokukuma/mdoc-wallet/internal/logfields"
	"github.com/kokukuma/mdoc-wallet/internal/mdocstore"
	"github.com/kokukuma/mdoc-wallet/internal/mdoctest"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/pkg/cborhttp"
	"github.com/kokukuma/mdoc-wallet/pkg/pki"
	"github.com/kokukuma/mdoc-wallet/session_transcript"
)

const (
	storeDirFlagName  = "store-dir"
	storeDirFlagUsage = "Directory holding the wallet's mdocs and device keys. Defaults to " + storeDirDefault + "." +
		" Alternatively, this can be set with the following environment variable: " + storeDirEnvKey
	storeDirEnvKey  = "WALLET_STORE_DIR"
	storeDirDefault = "./wallet-data"

	caDirFlagName  = "ca-dir"
	caDirFlagUsage = "Directory holding the demo root CA (rootKey.pem and rootCert.pem). Defaults to " + caDirDefault + "." +
		" Alternatively, this can be set with the following environment variable: " + caDirEnvKey
	caDirEnvKey  = "WALLET_CA_DIR"
	caDirDefault = "./ca"

	trustDirFlagName  = "trust-dir"
	trustDirFlagUsage = "Directory of PEM files trusted for reader authentication. Defaults to the CA directory." +
		" Alternatively, this can be set with the following environment variable: " + trustDirEnvKey
	trustDirEnvKey = "WALLET_TRUST_DIR"

	engagementFlagName  = "engagement"
	engagementFlagUsage = "Reader engagement, base64url encoded." +
		" Alternatively, this can be set with the following environment variable: " + engagementEnvKey
	engagementEnvKey = "WALLET_READER_ENGAGEMENT"

	returnURLFlagName  = "return-url"
	returnURLFlagUsage = "URL the user is sent to when the session ends." +
		" Alternatively, this can be set with the following environment variable: " + returnURLEnvKey
	returnURLEnvKey = "WALLET_RETURN_URL"

	referrerURLFlagName  = "referrer-url"
	referrerURLFlagUsage = "Origin placed in the device engagement. Defaults to " + holder.DefaultReferrerURL + "." +
		" Alternatively, this can be set with the following environment variable: " + referrerURLEnvKey
	referrerURLEnvKey = "WALLET_REFERRER_URL"

	sessionTypeFlagName  = "session-type"
	sessionTypeFlagUsage = "same_device or cross_device. Defaults to " + sessionTypeDefault + "." +
		" Alternatively, this can be set with the following environment variable: " + sessionTypeEnvKey
	sessionTypeEnvKey  = "WALLET_SESSION_TYPE"
	sessionTypeDefault = "cross_device"

	yesFlagName     = "yes"
	verboseFlagName = "verbose"
)

type walletParameters struct {
	storeDir string
	caDir    string
}

func getWalletParameters(cmd *cobra.Command) *walletParameters {
	params := &walletParameters{
		storeDir: cmdutils.GetUserSetOptionalVarFromString(cmd, storeDirFlagName, storeDirEnvKey),
		caDir:    cmdutils.GetUserSetOptionalVarFromString(cmd, caDirFlagName, caDirEnvKey),
	}
	if params.storeDir == "" {
		params.storeDir = storeDirDefault
	}
	if params.caDir == "" {
		params.caDir = caDirDefault
	}
	return params
}

type discloseParameters struct {
	*walletParameters

	trustDir         string
	readerEngagement []byte
	returnURL        string
	referrerURL      string
	sessionType      session_transcript.SessionType
	yes              bool
}

func getDiscloseParameters(cmd *cobra.Command) (*discloseParameters, error) {
	params := &discloseParameters{
		walletParameters: getWalletParameters(cmd),
		trustDir:         cmdutils.GetUserSetOptionalVarFromString(cmd, trustDirFlagName, trustDirEnvKey),
		returnURL:        cmdutils.GetUserSetOptionalVarFromString(cmd, returnURLFlagName, returnURLEnvKey),
		referrerURL:      cmdutils.GetUserSetOptionalVarFromString(cmd, referrerURLFlagName, referrerURLEnvKey),
	}
	if params.trustDir == "" {
		params.trustDir = params.caDir
	}

	encoded, err := cmdutils.GetUserSetVarFromString(cmd, engagementFlagName, engagementEnvKey, false)
	if err != nil {
		return nil, err
	}
	params.readerEngagement, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid reader engagement: %w", err)
	}

	rawSessionType := cmdutils.GetUserSetOptionalVarFromString(cmd, sessionTypeFlagName, sessionTypeEnvKey)
	if rawSessionType == "" {
		rawSessionType = sessionTypeDefault
	}
	params.sessionType, err = session_transcript.ParseSessionType(rawSessionType)
	if err != nil {
		return nil, err
	}

	params.yes, err = cmd.Flags().GetBool(yesFlagName)
	if err != nil {
		return nil, err
	}
	return params, nil
}

func (p *discloseParameters) options() []holder.Option {
	if p.referrerURL == "" {
		return nil
	}
	return []holder.Option{holder.WithReferrerURL(p.referrerURL)}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Issue a demo mDL and PID into the wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := getWalletParameters(cmd)
			return initWallet(cmd.Context(), cmd.OutOrStdout(), params.storeDir, params.caDir)
		},
	}
	cmd.Flags().String(storeDirFlagName, "", storeDirFlagUsage)
	cmd.Flags().String(caDirFlagName, "", caDirFlagUsage)
	return cmd
}

func initWallet(ctx context.Context, out io.Writer, storeDir, caDir string) error {
	ca, err := cryptoroot.LoadOrCreateCA(caDir, "mdoc wallet demo root")
	if err != nil {
		return fmt.Errorf("failed to load CA: %w", err)
	}
	issuer, err := mdoctest.NewIssuer(ca)
	if err != nil {
		return err
	}
	store, err := mdocstore.Open(storeDir)
	if err != nil {
		return err
	}

	samples := []struct {
		docType    mdoc.DocType
		nameSpaces []mdoctest.NameSpaceAttributes
	}{
		{docType: mdoc.DocTypeMDL, nameSpaces: mdoctest.SampleMDL()},
		{docType: mdoc.DocTypePID, nameSpaces: mdoctest.SamplePID()},
	}
	for _, sample := range samples {
		issuerSigned, key, err := issuer.IssueWithNewKey(sample.docType, sample.nameSpaces)
		if err != nil {
			return fmt.Errorf("failed to issue %s: %w", sample.docType, err)
		}
		held, err := store.Add(ctx, sample.docType, *issuerSigned, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "issued %s (key %s)\n", held.DocType, held.PrivateKeyID)
	}
	return nil
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List held mdocs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, err := cmd.Flags().GetBool(verboseFlagName)
			if err != nil {
				return err
			}

			store, err := mdocstore.Open(getWalletParameters(cmd).storeDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range store.List() {
				ids, err := m.AttributeIdentifiers()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s (key %s)\n", m.DocType, m.PrivateKeyID)
				for _, id := range ids {
					fmt.Fprintf(out, "  %s/%s\n", id.NameSpace, id.Attribute)
				}
				if verbose {
					mso, err := m.IssuerSigned.MobileSecurityObject()
					if err != nil {
						return err
					}
					spew.Fdump(out, mso)
				}
			}
			return nil
		},
	}
	cmd.Flags().String(storeDirFlagName, "", storeDirFlagUsage)
	cmd.Flags().Bool(verboseFlagName, false, "Dump the mobile security object of every mdoc.")
	return cmd
}

func discloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disclose",
		Short: "Run a disclosure session against the verifier in a reader engagement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := getDiscloseParameters(cmd)
			if err != nil {
				return err
			}

			trustAnchors, err := pki.GetRootCertificates(params.trustDir)
			if err != nil {
				return err
			}
			store, err := mdocstore.Open(params.storeDir)
			if err != nil {
				return err
			}

			session, err := holder.Start(cmd.Context(), cborhttp.New(), params.readerEngagement, params.returnURL,
				params.sessionType, store, trustAnchors, params.options()...)
			if err != nil {
				return err
			}

			approve := func() bool {
				if params.yes {
					return true
				}
				fmt.Fprint(cmd.OutOrStdout(), "share these attributes? [y/N] ")
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				return strings.EqualFold(strings.TrimSpace(answer), "y")
			}
			return runSession(cmd.Context(), cmd.OutOrStdout(), session, store, approve)
		},
	}
	cmd.Flags().String(storeDirFlagName, "", storeDirFlagUsage)
	cmd.Flags().String(caDirFlagName, "", caDirFlagUsage)
	cmd.Flags().String(trustDirFlagName, "", trustDirFlagUsage)
	cmd.Flags().String(engagementFlagName, "", engagementFlagUsage)
	cmd.Flags().String(returnURLFlagName, "", returnURLFlagUsage)
	cmd.Flags().String(referrerURLFlagName, "", referrerURLFlagUsage)
	cmd.Flags().String(sessionTypeFlagName, "", sessionTypeFlagUsage)
	cmd.Flags().Bool(yesFlagName, false, "Disclose without asking for consent.")
	return cmd
}

// runSession shows the session to the user and either discloses or terminates.
func runSession(ctx context.Context, out io.Writer, session *holder.DisclosureSession, keys holder.KeyResolver, approve func() bool) error {
	registration, err := session.ReaderRegistration()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "verifier: %s\n", registration.Organization.DisplayName["en"])
	fmt.Fprintf(out, "purpose: %s\n", registration.PurposeStatement["en"])

	if notAvailable := session.AttributesNotAvailable(); notAvailable != nil {
		fmt.Fprintln(out, "the wallet does not hold:")
		for _, id := range notAvailable.MissingAttributes {
			fmt.Fprintf(out, "  %s\n", id)
		}
		if err := session.Terminate(ctx); err != nil {
			return err
		}
		return notAvailable
	}

	proposed, err := session.ProposedAttributes()
	if err != nil {
		return err
	}
	for _, doc := range proposed {
		fmt.Fprintln(out, doc.DocType)
		for _, ns := range doc.NameSpaces {
			for _, entry := range ns.Attributes {
				fmt.Fprintf(out, "  %s/%s: %v\n", ns.NameSpace, entry.Name, entry.Value)
			}
		}
	}

	if !approve() {
		logger.Infoc(ctx, "user declined disclosure", logfields.WithSessionID(session.ID()))
		return session.Terminate(ctx)
	}

	if err := session.Disclose(ctx, keys); err != nil {
		return err
	}
	fmt.Fprintln(out, "disclosed")
	if session.ReturnURL() != "" {
		fmt.Fprintf(out, "continue at %s\n", session.ReturnURL())
	}
	return nil
}

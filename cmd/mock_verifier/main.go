package main

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	cmdutils "github.com/trustbloc/cmdutil-go/pkg/utils/cmd"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/mdoc-wallet/cmd/common"
	"github.com/kokukuma/mdoc-wallet/internal/cryptoroot"
	"github.com/kokukuma/mdoc-wallet/internal/logfields"
	"github.com/kokukuma/mdoc-wallet/internal/mdoctest"
	"github.com/kokukuma/mdoc-wallet/mdoc"
	"github.com/kokukuma/mdoc-wallet/session_transcript"
)

var logger = log.New("mdoc-mock-verifier")

const (
	hostURLFlagName  = "host-url"
	hostURLFlagUsage = "Address the verifier listens on. Defaults to " + hostURLDefault + "." +
		" Alternatively, this can be set with the following environment variable: " + hostURLEnvKey
	hostURLEnvKey  = "VERIFIER_HOST_URL"
	hostURLDefault = ":8081"

	baseURLFlagName  = "base-url"
	baseURLFlagUsage = "External URL of the verifier, placed in reader engagements. Defaults to " + baseURLDefault + "." +
		" Alternatively, this can be set with the following environment variable: " + baseURLEnvKey
	baseURLEnvKey  = "VERIFIER_BASE_URL"
	baseURLDefault = "http://localhost:8081"

	caDirFlagName  = "ca-dir"
	caDirFlagUsage = "Directory holding the demo root CA. It is created when missing. Defaults to " + caDirDefault + "." +
		" Alternatively, this can be set with the following environment variable: " + caDirEnvKey
	caDirEnvKey  = "VERIFIER_CA_DIR"
	caDirDefault = "./ca"

	attributeFlagName  = "attribute"
	attributeFlagUsage = "Requested attribute as docType/nameSpace/element. Repeat or comma separate." +
		" Defaults to the mDL family_name, given_name and age_over_18." +
		" Alternatively, this can be set with the following environment variable: " + attributeEnvKey
	attributeEnvKey = "VERIFIER_ATTRIBUTES"

	sessionTypeFlagName  = "session-type"
	sessionTypeFlagUsage = "same_device or cross_device. Defaults to " + sessionTypeDefault + "." +
		" Alternatively, this can be set with the following environment variable: " + sessionTypeEnvKey
	sessionTypeEnvKey  = "VERIFIER_SESSION_TYPE"
	sessionTypeDefault = "cross_device"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("Failed to run verifier", log.WithError(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mock_verifier",
		Short: "Runs an ISO 18013-5 verifier for trying out the wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logLevel := cmdutils.GetUserSetOptionalVarFromString(cmd, common.LogLevelFlagName, common.LogLevelEnvKey)
			if logLevel != "" {
				common.SetDefaultLogLevel(logger, logLevel)
			}
			params, err := getVerifierParameters(cmd)
			if err != nil {
				return err
			}
			return serve(params)
		},
	}
	rootCmd.Flags().StringP(common.LogLevelFlagName, common.LogLevelFlagShorthand, "", common.LogLevelFlagUsage)
	rootCmd.Flags().String(hostURLFlagName, "", hostURLFlagUsage)
	rootCmd.Flags().String(baseURLFlagName, "", baseURLFlagUsage)
	rootCmd.Flags().String(caDirFlagName, "", caDirFlagUsage)
	rootCmd.Flags().StringSlice(attributeFlagName, nil, attributeFlagUsage)
	rootCmd.Flags().String(sessionTypeFlagName, "", sessionTypeFlagUsage)
	return rootCmd
}

type verifierParameters struct {
	hostURL       string
	baseURL       string
	caDir         string
	itemsRequests []mdoc.ItemsRequest
	sessionType   session_transcript.SessionType
}

func getVerifierParameters(cmd *cobra.Command) (*verifierParameters, error) {
	params := &verifierParameters{
		hostURL: cmdutils.GetUserSetOptionalVarFromString(cmd, hostURLFlagName, hostURLEnvKey),
		baseURL: cmdutils.GetUserSetOptionalVarFromString(cmd, baseURLFlagName, baseURLEnvKey),
		caDir:   cmdutils.GetUserSetOptionalVarFromString(cmd, caDirFlagName, caDirEnvKey),
	}
	if params.hostURL == "" {
		params.hostURL = hostURLDefault
	}
	if params.baseURL == "" {
		params.baseURL = baseURLDefault
	}
	params.baseURL = strings.TrimRight(params.baseURL, "/")
	if params.caDir == "" {
		params.caDir = caDirDefault
	}

	rawSessionType := cmdutils.GetUserSetOptionalVarFromString(cmd, sessionTypeFlagName, sessionTypeEnvKey)
	if rawSessionType == "" {
		rawSessionType = sessionTypeDefault
	}
	var err error
	params.sessionType, err = session_transcript.ParseSessionType(rawSessionType)
	if err != nil {
		return nil, err
	}

	attributes := cmdutils.GetUserSetOptionalCSVVar(cmd, attributeFlagName, attributeEnvKey)
	if len(attributes) == 0 {
		params.itemsRequests, err = defaultItemsRequests()
	} else {
		params.itemsRequests, err = parseItemsRequests(attributes)
	}
	if err != nil {
		return nil, err
	}
	return params, nil
}

func defaultItemsRequests() ([]mdoc.ItemsRequest, error) {
	ageOver18, err := mdoc.AgeOver(18)
	if err != nil {
		return nil, err
	}
	return []mdoc.ItemsRequest{
		mdoctest.ItemsRequest(mdoc.DocTypeMDL, mdoc.FamilyName, mdoc.GivenName, ageOver18),
	}, nil
}

func serve(params *verifierParameters) error {
	ca, err := cryptoroot.LoadOrCreateCA(params.caDir, "mdoc wallet demo root")
	if err != nil {
		return err
	}

	v, err := mdoctest.NewVerifier(mdoctest.VerifierConfig{
		CA:            ca,
		ItemsRequests: params.itemsRequests,
		SessionType:   params.sessionType,
		BaseURL:       params.baseURL,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              params.hostURL,
		Handler:           newRouter(v),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting mock verifier", logfields.WithAddress(params.hostURL), log.WithURL(params.baseURL))
	return srv.ListenAndServe()
}

func newRouter(v *mdoctest.Verifier) http.Handler {
	r := mux.NewRouter()
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{"POST", "GET"}),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedOrigins([]string{"*"}),
	))
	v.RegisterRoutes(r)
	return handlers.LoggingHandler(os.Stdout, r)
}

// parseItemsRequests groups docType/nameSpace/element triples into one
// ItemsRequest per doc type, ordered by doc type.
func parseItemsRequests(attributes []string) ([]mdoc.ItemsRequest, error) {
	ids := make([]mdoc.AttributeIdentifier, 0, len(attributes))
	for _, attr := range attributes {
		parts := strings.Split(strings.TrimSpace(attr), "/")
		if len(parts) != 3 || lo.Contains(parts, "") {
			return nil, fmt.Errorf("invalid attribute %q: expected docType/nameSpace/element", attr)
		}
		ids = append(ids, mdoc.AttributeIdentifier{
			DocType:   mdoc.DocType(parts[0]),
			NameSpace: mdoc.NameSpace(parts[1]),
			Attribute: mdoc.ElementIdentifier(parts[2]),
		})
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one attribute must be requested")
	}

	byDocType := lo.GroupBy(ids, func(id mdoc.AttributeIdentifier) mdoc.DocType { return id.DocType })
	docTypes := lo.Keys(byDocType)
	sort.Slice(docTypes, func(i, j int) bool { return docTypes[i] < docTypes[j] })

	return lo.Map(docTypes, func(docType mdoc.DocType, _ int) mdoc.ItemsRequest {
		elements := lo.Map(byDocType[docType], func(id mdoc.AttributeIdentifier, _ int) mdoc.Element {
			return mdoc.Element{NameSpace: id.NameSpace, Name: id.Attribute}
		})
		return mdoctest.ItemsRequest(docType, elements...)
	}), nil
}

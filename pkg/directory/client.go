// pkg/directory/client.go

package directory

import (
	"context"

	"github.com/fulcrumsec/tenantctl/pkg/config"
	cerr "github.com/cockroachdb/errors"
)

// Document is an opaque remote configuration document.
type Document = map[string]any

// ErrNotFound reports that the tenant has no object for the given key.
var ErrNotFound = cerr.New("directory object not found")

// Client is the only boundary that talks to the directory tenant. All calls
// are create-or-update by natural (kind, name) key, so retries are
// semantically idempotent.
type Client interface {
	// CreateOrUpdate upserts the document and returns its remote identifier.
	CreateOrUpdate(ctx context.Context, kind config.Kind, name string, body Document) (string, error)
	// Get returns the current remote document, or ErrNotFound.
	Get(ctx context.Context, kind config.Kind, name string) (Document, error)
	// Delete removes the object; ErrNotFound when it does not exist.
	Delete(ctx context.Context, kind config.Kind, name string) error
}

// kindPaths maps each kind onto its tenant API collection.
var kindPaths = map[config.Kind]string{
	config.KindGroup:            "groups",
	config.KindNamedLocation:    "namedLocations",
	config.KindAccessPolicy:     "accessPolicies",
	config.KindServicePrincipal: "servicePrincipals",
	config.KindSSOApp:           "ssoApps",
	config.KindAuthMethodPolicy: "authMethodPolicies",
}

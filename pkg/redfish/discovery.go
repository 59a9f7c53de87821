package redfish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/3leaps/gobmc/pkg/transport"
)

// Well-known collection roots.
const (
	ServiceRoot = "/redfish/v1"
	ManagersURI = "/redfish/v1/Managers"
	SystemsURI  = "/redfish/v1/Systems"
)

// Discovery errors.
var (
	// ErrNoMembers indicates a collection has no members.
	ErrNoMembers = errors.New("collection has no members")

	// ErrResourceNotFound indicates a requested resource id is not a member.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrLinkNotFound indicates an OEM service link is absent.
	ErrLinkNotFound = errors.New("oem service link not found")
)

// Get fetches uri and decodes the body.
func Get(ctx context.Context, client transport.Client, uri string) (map[string]any, error) {
	resp, err := client.Invoke(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	return resp.JSON()
}

// ResolveMemberURI returns the member of collection whose last path segment is
// resourceID, or the first member when resourceID is empty.
func ResolveMemberURI(ctx context.Context, client transport.Client, collection, resourceID string) (string, error) {
	doc, err := Get(ctx, client, collection)
	if err != nil {
		return "", err
	}
	links := MemberLinks(doc)
	if len(links) == 0 {
		return "", fmt.Errorf("%s: %w", collection, ErrNoMembers)
	}
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return links[0], nil
	}
	for _, link := range links {
		if path.Base(strings.TrimRight(link, "/")) == resourceID {
			return link, nil
		}
	}
	return "", fmt.Errorf("%s in %s: %w", resourceID, collection, ErrResourceNotFound)
}

// OemServiceURI reads Links.Oem.<vendor>.<service>.@odata.id from resourceURI.
func OemServiceURI(ctx context.Context, client transport.Client, resourceURI, vendor, service string) (string, error) {
	doc, err := Get(ctx, client, resourceURI)
	if err != nil {
		return "", err
	}
	link := Link(doc, "Links", "Oem", vendor, service)
	if link == "" {
		return "", fmt.Errorf("Links.Oem.%s.%s: %w", vendor, service, ErrLinkNotFound)
	}
	return link, nil
}

// ManagerDateTime returns the controller's current DateTime.
func ManagerDateTime(ctx context.Context, client transport.Client, managerURI string) (time.Time, error) {
	doc, err := Get(ctx, client, managerURI)
	if err != nil {
		return time.Time{}, err
	}
	raw := String(doc, "DateTime")
	if raw == "" {
		return time.Time{}, fmt.Errorf("manager %s does not report DateTime", managerURI)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse manager DateTime %q: %w", raw, err)
	}
	return t, nil
}

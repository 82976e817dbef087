package openapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// GenerateSpec builds the OpenAPI 3.1 document for the fixed HTTP API:
// admin sessions and key issuance, agent ingest, and the card-holder
// endpoints.
func GenerateSpec(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Cardbox API",
			Description: "Card-key gated notification inbox: issue short-lived card keys, ingest forwarded notifications, and read a per-account inbox.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Components.SecuritySchemes["ingestToken"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-Ingest-Token",
		},
	}
	doc.Components.SecuritySchemes["cardKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-Card-Key",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    schemaOf("integer", "int32"),
							"message": schemaOf("string", ""),
							"context": schemaOf("object", ""),
						},
					},
				},
			},
		},
	}
	doc.Components.Schemas["Message"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":          schemaOf("integer", "int64"),
				"owner":       schemaOf("string", ""),
				"body":        schemaOf("string", ""),
				"sender":      schemaOf("string", ""),
				"source_time": schemaOf("string", "date-time"),
				"received_at": schemaOf("string", "date-time"),
			},
		},
	}
	doc.Components.Schemas["CardKey"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"key":           schemaOf("string", ""),
				"owner":         schemaOf("string", ""),
				"status":        schemaOf("string", ""),
				"created_at":    schemaOf("string", "date-time"),
				"first_used_at": schemaOf("string", "date-time"),
			},
		},
	}
	doc.Components.Schemas["UsageLogEntry"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"key":     schemaOf("string", ""),
				"owner":   schemaOf("string", ""),
				"outcome": schemaOf("string", ""),
				"at":      schemaOf("string", "date-time"),
			},
		},
	}
	doc.Components.Schemas["Account"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"owner":       schemaOf("string", ""),
				"label":       schemaOf("string", ""),
				"ttl_seconds": schemaOf("integer", "int64"),
				"created_at":  schemaOf("string", "date-time"),
			},
		},
	}

	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/api/v1/admin/session", &openapi3.PathItem{
		Post: operation("adminLogin", "Authenticate an admin and return a bearer token", nil,
			responses(map[int]string{200: "Session token", 400: "Missing credentials", 401: "Invalid credentials"})),
		Delete: operation("adminLogout", "Invalidate the current session", nil,
			responses(map[int]string{200: "Session invalidated"})),
	})
	doc.Paths.Set("/api/v1/admin/keys", &openapi3.PathItem{
		Get: operation("listKeys", "List all card keys with derived status", bearer(),
			responses(map[int]string{200: "Card keys", 401: "Unauthenticated"})),
		Post: operation("issueKeys", "Issue a batch of card keys for one account", bearer(),
			responses(map[int]string{201: "Minted key strings", 400: "Count out of range", 404: "Unknown account"})),
	})
	doc.Paths.Set("/api/v1/admin/keys/sweep", &openapi3.PathItem{
		Post: operation("sweepKeys", "Delete every key whose validity window has elapsed", bearer(),
			responses(map[int]string{200: "Number of keys deleted"})),
	})
	doc.Paths.Set("/api/v1/admin/audit", &openapi3.PathItem{
		Get: operation("auditLog", "Read recent validation attempts, newest first, capped at 100", bearer(),
			responses(map[int]string{200: "Audit entries"})),
	})
	doc.Paths.Set("/api/v1/admin/accounts", &openapi3.PathItem{
		Get: operation("listAccounts", "List registered accounts", bearer(),
			responses(map[int]string{200: "Accounts"})),
		Post: operation("createAccount", "Register a new inbox owner", bearer(),
			responses(map[int]string{201: "Created account", 409: "Account already exists"})),
	})
	doc.Paths.Set("/api/v1/admin/accounts/{owner}", &openapi3.PathItem{
		Get: operation("getAccount", "Fetch one account", bearer(),
			responses(map[int]string{200: "Account", 404: "Not found"})),
		Put: operation("updateAccount", "Replace an account's label and TTL override", bearer(),
			responses(map[int]string{200: "Updated account", 404: "Not found"})),
		Delete: operation("deleteAccount", "Remove an account", bearer(),
			responses(map[int]string{200: "Deleted", 404: "Not found"})),
	})
	doc.Paths.Set("/api/v1/admin/admins", &openapi3.PathItem{
		Get: operation("listAdmins", "List admin users", bearer(),
			responses(map[int]string{200: "Admins"})),
		Post: operation("createAdmin", "Register a new admin user", bearer(),
			responses(map[int]string{201: "Created admin", 409: "Email already registered"})),
	})
	doc.Paths.Set("/api/v1/ingest", &openapi3.PathItem{
		Post: operation("ingest", "Store one forwarded notification for an account",
			security("ingestToken"),
			responses(map[int]string{201: "Stored message", 400: "Missing owner or payload", 404: "Unknown account"})),
	})
	doc.Paths.Set("/api/v1/card/validate", &openapi3.PathItem{
		Post: operation("validateKey", "Run one attempt of the card-key state machine", nil,
			responses(map[int]string{200: "Key accepted; owner and remaining window", 404: "Key not found", 410: "Key expired"})),
	})
	doc.Paths.Set("/api/v1/card/messages", &openapi3.PathItem{
		Get: operation("cardMessages", "Read the inbox the presented card key opens, newest first",
			security("cardKey"),
			responses(map[int]string{200: "Messages", 404: "Key not found", 410: "Key expired"})),
	})

	return doc
}

// Handler serves the generated spec as JSON.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := GenerateSpec(baseURLFromRequest(r))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}
}

func baseURLFromRequest(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func schemaOf(typ, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}, Format: format}}
}

func operation(id, summary string, sec *openapi3.SecurityRequirements, resp *openapi3.Responses) *openapi3.Operation {
	op := &openapi3.Operation{
		OperationID: id,
		Summary:     summary,
		Responses:   resp,
	}
	if sec != nil {
		op.Security = sec
	}
	return op
}

func bearer() *openapi3.SecurityRequirements {
	return security("bearerAuth")
}

func security(scheme string) *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{{scheme: {}}}
}

func responses(byStatus map[int]string) *openapi3.Responses {
	resp := openapi3.NewResponses()
	for status, desc := range byStatus {
		d := desc
		resp.Set(strconv.Itoa(status), &openapi3.ResponseRef{
			Value: &openapi3.Response{Description: &d},
		})
	}
	return resp
}

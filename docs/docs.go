// Package docs holds the OpenAPI description served under /swagger/.
// It follows the layout swag init produces and is kept in step with the
// godoc annotations in package api.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Reports whether the graph store answers",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Service health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.healthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.healthResponse"}}
                }
            }
        },
        "/v2/landscapes/{token}/timestamps": {
            "get": {
                "produces": ["application/json"],
                "tags": ["landscapes"],
                "summary": "List trace timestamps",
                "parameters": [
                    {"type": "string", "description": "Landscape token", "name": "token", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/core.Timestamp"}}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/v2/landscapes/{token}/structure": {
            "get": {
                "description": "Returns the applications of a landscape with their functions",
                "produces": ["application/json"],
                "tags": ["landscapes"],
                "summary": "Landscape structure",
                "parameters": [
                    {"type": "string", "description": "Landscape token", "name": "token", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.structureResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/v2/landscapes/{token}/repositories": {
            "get": {
                "produces": ["application/json"],
                "tags": ["landscapes"],
                "summary": "List repositories",
                "parameters": [
                    {"type": "string", "description": "Landscape token", "name": "token", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"type": "string"}}}
                }
            }
        },
        "/v2/landscapes/{token}/commits/{repository}/{branch}/latest": {
            "get": {
                "description": "Returns the newest commit whose files are all persisted",
                "produces": ["application/json"],
                "tags": ["commits"],
                "summary": "Latest commit of a branch",
                "parameters": [
                    {"type": "string", "description": "Landscape token", "name": "token", "in": "path", "required": true},
                    {"type": "string", "description": "Repository name", "name": "repository", "in": "path", "required": true},
                    {"type": "string", "description": "Branch name", "name": "branch", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/core.CommitSummary"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/{token}/commits/{repository}/{branch}/latest": {
            "get": {
                "description": "Returns the newest commit whose files are all persisted",
                "produces": ["application/json"],
                "tags": ["commits"],
                "summary": "Latest commit of a branch",
                "parameters": [
                    {"type": "string", "description": "Landscape token", "name": "token", "in": "path", "required": true},
                    {"type": "string", "description": "Repository name", "name": "repository", "in": "path", "required": true},
                    {"type": "string", "description": "Branch name", "name": "branch", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/core.CommitSummary"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/v2/code/applications/{token}": {
            "get": {
                "description": "Returns the applications named in commit reports",
                "produces": ["application/json"],
                "tags": ["code"],
                "summary": "List analysed applications",
                "parameters": [
                    {"type": "string", "description": "Landscape token", "name": "token", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"type": "string"}}}
                }
            }
        },
        "/v2/code/commit-tree/{token}/{application}": {
            "get": {
                "description": "Returns the branches of an application with their commits and branch points",
                "produces": ["application/json"],
                "tags": ["code"],
                "summary": "Commit tree of an application",
                "parameters": [
                    {"type": "string", "description": "Landscape token", "name": "token", "in": "path", "required": true},
                    {"type": "string", "description": "Application name", "name": "application", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/core.CommitTree"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.errorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "api.healthResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}}
        },
        "api.structureResponse": {
            "type": "object",
            "properties": {
                "landscapeToken": {"type": "string"},
                "applications": {"type": "array", "items": {"$ref": "#/definitions/core.Application"}}
            }
        },
        "core.Timestamp": {
            "type": "object",
            "properties": {
                "epochNano": {"type": "integer"},
                "spanCount": {"type": "integer"}
            }
        },
        "core.Function": {
            "type": "object",
            "properties": {
                "fqn": {"type": "string"},
                "name": {"type": "string"}
            }
        },
        "core.Application": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "functions": {"type": "array", "items": {"$ref": "#/definitions/core.Function"}}
            }
        },
        "core.CommitSummary": {
            "type": "object",
            "properties": {
                "commitId": {"type": "string"},
                "branchName": {"type": "string"},
                "commitDate": {"type": "string"},
                "authorDate": {"type": "string"},
                "tags": {"type": "array", "items": {"type": "string"}}
            }
        },
        "core.BranchPoint": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "commitId": {"type": "string"}
            }
        },
        "core.BranchTree": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "commits": {"type": "array", "items": {"type": "string"}},
                "branchPoint": {"$ref": "#/definitions/core.BranchPoint"}
            }
        },
        "core.CommitTree": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "branches": {"type": "array", "items": {"$ref": "#/definitions/core.BranchTree"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "2.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ExplorViz Persistence API",
	Description:      "Read access to landscape structure, traces and commit history.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

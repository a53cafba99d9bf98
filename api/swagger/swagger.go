package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "OpenLearn API",
        "description": "Online course platform with class session scheduling and enrollment",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login, refresh and logout"},
        {"name": "Schedules", "description": "Class session scheduling and enrollment"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/api/v1/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Expired or revoked token"}
                }
            }
        },
        "/api/v1/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke refresh token",
                "responses": {
                    "204": {"description": "Logged out"},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/api/v1/schedules": {
            "get": {
                "tags": ["Schedules"],
                "summary": "List schedules visible to the caller, ordered by start time",
                "parameters": [
                    {"name": "start_date", "in": "query", "type": "string"},
                    {"name": "end_date", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Schedules"],
                "summary": "Create a schedule for a lesson",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateScheduleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error"},
                    "403": {"description": "Not the course owner"},
                    "404": {"description": "Lesson not found"}
                }
            }
        },
        "/api/v1/schedules/{id}": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Schedule detail with enrolled students",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found or not visible"}
                }
            },
            "put": {
                "tags": ["Schedules"],
                "summary": "Update a schedule",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateScheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not the course owner"},
                    "404": {"description": "Not found"}
                }
            },
            "delete": {
                "tags": ["Schedules"],
                "summary": "Delete a schedule and its enrollments",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "403": {"description": "Not the course owner"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/api/v1/schedules/{id}/students": {
            "post": {
                "tags": ["Schedules"],
                "summary": "Enroll a student on their behalf",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Enrolled"},
                    "400": {"description": "Capacity reached, duplicate or ineligible"},
                    "403": {"description": "Not the course owner"}
                }
            }
        },
        "/api/v1/schedules/{id}/join": {
            "post": {
                "tags": ["Schedules"],
                "summary": "Join a schedule as the authenticated student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Enrolled"},
                    "400": {"description": "Capacity reached, duplicate or ineligible"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/api/v1/schedules/my/calendar": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Upcoming joined schedules for the authenticated student",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/schedules/{id}/roster": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Export the enrolled roster as CSV or PDF",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Not the course owner"},
                    "404": {"description": "Not found"}
                }
            }
        }
    },
    "definitions": {
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"type": "object"},
                "pagination": {"type": "object"},
                "meta": {"type": "object"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "RefreshTokenRequest": {
            "type": "object",
            "required": ["refresh_token"],
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "CreateScheduleRequest": {
            "type": "object",
            "required": ["lesson_id", "title", "start_time", "end_time"],
            "properties": {
                "lesson_id": {"type": "string"},
                "title": {"type": "string"},
                "meeting_url": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "max_students": {"type": "integer"},
                "description": {"type": "string"}
            }
        },
        "UpdateScheduleRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "meeting_url": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "max_students": {"type": "integer"},
                "description": {"type": "string"}
            }
        },
        "AddStudentRequest": {
            "type": "object",
            "required": ["student_id"],
            "properties": {
                "student_id": {"type": "string"}
            }
        }
    }
}`

type swaggerDoc struct{}

func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

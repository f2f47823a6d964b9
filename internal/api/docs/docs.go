// Package docs 操作员 API 的 OpenAPI 描述
package docs

import (
	"sync"

	"github.com/swaggo/swag"
)

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "in": "header", "name": "X-API-Key"}
    },
    "paths": {
        "/api/nodes": {
            "get": {"tags": ["节点"], "summary": "查询全部节点", "security": [{"ApiKeyAuth": []}], "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}}
        },
        "/api/nodes/{index}": {
            "get": {"tags": ["节点"], "summary": "查询单个节点", "security": [{"ApiKeyAuth": []}], "produces": ["application/json"],
                "parameters": [{"type": "integer", "name": "index", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/api/nodes/{index}/attempts": {
            "get": {"tags": ["节点"], "summary": "节点握手历史", "security": [{"ApiKeyAuth": []}], "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "name": "index", "in": "path", "required": true},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}}
        },
        "/api/nodes/{index}/select": {
            "post": {"tags": ["操作"], "summary": "选择节点", "security": [{"ApiKeyAuth": []}], "produces": ["application/json"],
                "parameters": [{"type": "integer", "name": "index", "in": "path", "required": true}],
                "responses": {"202": {"description": "Accepted"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}, "429": {"description": "Too Many Requests"}, "503": {"description": "Queue Full"}}}
        },
        "/api/touch": {
            "post": {"tags": ["操作"], "summary": "触摸选择", "security": [{"ApiKeyAuth": []}], "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object", "properties": {"x": {"type": "integer"}, "y": {"type": "integer"}}}}],
                "responses": {"202": {"description": "Accepted"}, "400": {"description": "Outside Grid"}, "409": {"description": "Conflict"}}}
        },
        "/api/clock": {
            "get": {"tags": ["操作"], "summary": "协调器时钟", "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["操作"], "summary": "设置协调器时钟", "security": [{"ApiKeyAuth": []}], "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object", "properties": {"epoch": {"type": "integer"}}}}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        },
        "/api/grid": {
            "get": {"tags": ["操作"], "summary": "触摸布局", "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}}
        }
    }
}`

// SwaggerInfo 文档元信息
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "fieldsync operator API",
	Description:      "Coordinator node selection, clock seeding and handshake history.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

var once sync.Once

// Register 注册到 swag（重复调用安全）
func Register() {
	once.Do(func() {
		swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
	})
}

/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package schemas

// SearchEntitiesSchema defines the request body for the tracking search endpoint
const SearchEntitiesSchema = `{
	"type": "object",
	"properties": {
		"status": {
			"type": "string"
		},
		"zone_id": {
			"type": "string"
		},
		"external_reference": {
			"type": "string"
		},
		"include_archived": {
			"type": "boolean"
		},
		"size": {
			"type": "integer",
			"minimum": 1
		}
	},
	"additionalProperties": false
}`

// SetDeadlineSchema defines the request body for the deadlines endpoint
const SetDeadlineSchema = `{
	"type": "object",
	"required": ["name", "deadline"],
	"properties": {
		"name": {
			"type": "string",
			"minLength": 1
		},
		"deadline": {
			"type": "integer",
			"minimum": 1
		}
	},
	"additionalProperties": false
}`

// FlagEntitySchema defines the request body for manual delayed/lost flagging
const FlagEntitySchema = `{
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {
			"type": "string",
			"enum": ["delayed", "lost"]
		},
		"reason": {
			"type": "string"
		}
	},
	"additionalProperties": false
}`

// ResolveAlertSchema defines the request body for alert resolution
const ResolveAlertSchema = `{
	"type": "object",
	"properties": {
		"note": {
			"type": "string"
		}
	},
	"additionalProperties": false
}`

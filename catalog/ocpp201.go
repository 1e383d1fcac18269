package catalog

// OCPP201 is the subprotocol name of OCPP 2.0.1.
const OCPP201 = "ocpp2.0.1"

var ocpp201Schemas = map[string][2]string{
	"Authorize": {
		`{
			"type": "object",
			"properties": {
				"idToken": {
					"type": "object",
					"properties": {
						"idToken": {"type": "string", "maxLength": 36},
						"type": {"type": "string", "enum": [
							"Central", "eMAID", "ISO14443", "ISO15693", "KeyCode", "Local", "MacAddress", "NoAuthorization"
						]}
					},
					"required": ["idToken", "type"]
				}
			},
			"required": ["idToken"]
		}`,
		`{
			"type": "object",
			"properties": {
				"idTokenInfo": {
					"type": "object",
					"properties": {
						"status": {"type": "string", "enum": [
							"Accepted", "Blocked", "ConcurrentTx", "Expired", "Invalid", "NoCredit",
							"NotAllowedTypeEVSE", "NotAtThisLocation", "NotAtThisTime", "Unknown"
						]},
						"cacheExpiryDateTime": {"type": "string", "format": "date-time"}
					},
					"required": ["status"]
				}
			},
			"required": ["idTokenInfo"]
		}`,
	},
	"BootNotification": {
		`{
			"type": "object",
			"properties": {
				"chargingStation": {
					"type": "object",
					"properties": {
						"serialNumber": {"type": "string", "maxLength": 25},
						"model": {"type": "string", "minLength": 1, "maxLength": 20},
						"vendorName": {"type": "string", "minLength": 1, "maxLength": 50},
						"firmwareVersion": {"type": "string", "maxLength": 50},
						"modem": {
							"type": "object",
							"properties": {
								"iccid": {"type": "string", "maxLength": 20},
								"imsi": {"type": "string", "maxLength": 20}
							},
							"additionalProperties": false
						}
					},
					"additionalProperties": false,
					"required": ["model", "vendorName"]
				},
				"reason": {"type": "string", "enum": [
					"ApplicationReset", "FirmwareUpdate", "LocalReset", "PowerUp", "RemoteReset",
					"ScheduledReset", "Triggered", "Unknown", "Watchdog"
				]}
			},
			"additionalProperties": false,
			"required": ["chargingStation", "reason"]
		}`,
		`{
			"type": "object",
			"properties": {
				"currentTime": {"type": "string", "format": "date-time"},
				"interval": {"type": "integer"},
				"status": {"type": "string", "enum": ["Accepted", "Pending", "Rejected"]},
				"statusInfo": {
					"type": "object",
					"properties": {
						"reasonCode": {"type": "string", "maxLength": 20},
						"additionalInfo": {"type": "string", "maxLength": 512}
					},
					"required": ["reasonCode"]
				}
			},
			"additionalProperties": false,
			"required": ["currentTime", "interval", "status"]
		}`,
	},
	"Heartbeat": {
		`{"type": "object", "properties": {}, "additionalProperties": false}`,
		`{
			"type": "object",
			"properties": {
				"currentTime": {"type": "string", "format": "date-time"}
			},
			"additionalProperties": false,
			"required": ["currentTime"]
		}`,
	},
	"Reset": {
		`{
			"type": "object",
			"properties": {
				"type": {"type": "string", "enum": ["Immediate", "OnIdle"]},
				"evseId": {"type": "integer"}
			},
			"additionalProperties": false,
			"required": ["type"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Rejected", "Scheduled"]}
			},
			"required": ["status"]
		}`,
	},
	"StatusNotification": {
		`{
			"type": "object",
			"properties": {
				"timestamp": {"type": "string", "format": "date-time"},
				"connectorStatus": {"type": "string", "enum": ["Available", "Occupied", "Reserved", "Unavailable", "Faulted"]},
				"evseId": {"type": "integer"},
				"connectorId": {"type": "integer"}
			},
			"additionalProperties": false,
			"required": ["timestamp", "connectorStatus", "evseId", "connectorId"]
		}`,
		`{"type": "object", "properties": {}}`,
	},
}

package catalog

// OCPP16 is the subprotocol name of OCPP 1.6 JSON.
const OCPP16 = "ocpp1.6"

const idTagInfo16 = `{
	"type": "object",
	"properties": {
		"expiryDate": {"type": "string", "format": "date-time"},
		"parentIdTag": {"type": "string", "maxLength": 20},
		"status": {"type": "string", "enum": ["Accepted", "Blocked", "Expired", "Invalid", "ConcurrentTx"]}
	},
	"additionalProperties": false,
	"required": ["status"]
}`

// Request and response schemas of the OCPP 1.6 core profile, keyed by action.
var ocpp16Schemas = map[string][2]string{
	"Authorize": {
		`{
			"type": "object",
			"properties": {
				"idTag": {"type": "string", "minLength": 1, "maxLength": 20}
			},
			"additionalProperties": false,
			"required": ["idTag"]
		}`,
		`{
			"type": "object",
			"properties": {"idTagInfo": ` + idTagInfo16 + `},
			"additionalProperties": false,
			"required": ["idTagInfo"]
		}`,
	},
	"BootNotification": {
		`{
			"type": "object",
			"properties": {
				"chargePointVendor": {"type": "string", "minLength": 1, "maxLength": 20},
				"chargePointModel": {"type": "string", "minLength": 1, "maxLength": 20},
				"chargePointSerialNumber": {"type": "string", "maxLength": 25},
				"chargeBoxSerialNumber": {"type": "string", "maxLength": 25},
				"firmwareVersion": {"type": "string", "maxLength": 50},
				"iccid": {"type": "string", "maxLength": 20},
				"imsi": {"type": "string", "maxLength": 20},
				"meterType": {"type": "string", "maxLength": 25},
				"meterSerialNumber": {"type": "string", "maxLength": 25}
			},
			"additionalProperties": false,
			"required": ["chargePointVendor", "chargePointModel"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Pending", "Rejected"]},
				"currentTime": {"type": "string", "format": "date-time"},
				"interval": {"type": "integer"}
			},
			"additionalProperties": false,
			"required": ["status", "currentTime", "interval"]
		}`,
	},
	"ChangeAvailability": {
		`{
			"type": "object",
			"properties": {
				"connectorId": {"type": "integer", "minimum": 0},
				"type": {"type": "string", "enum": ["Inoperative", "Operative"]}
			},
			"additionalProperties": false,
			"required": ["connectorId", "type"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Rejected", "Scheduled"]}
			},
			"additionalProperties": false,
			"required": ["status"]
		}`,
	},
	"ChangeConfiguration": {
		`{
			"type": "object",
			"properties": {
				"key": {"type": "string", "minLength": 1, "maxLength": 50},
				"value": {"type": "string", "maxLength": 500}
			},
			"additionalProperties": false,
			"required": ["key", "value"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Rejected", "RebootRequired", "NotSupported"]}
			},
			"additionalProperties": false,
			"required": ["status"]
		}`,
	},
	"ClearCache": {
		`{"type": "object", "properties": {}, "additionalProperties": false}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Rejected"]}
			},
			"additionalProperties": false,
			"required": ["status"]
		}`,
	},
	"DataTransfer": {
		`{
			"type": "object",
			"properties": {
				"vendorId": {"type": "string", "minLength": 1, "maxLength": 255},
				"messageId": {"type": "string", "maxLength": 50},
				"data": {"type": "string"}
			},
			"additionalProperties": false,
			"required": ["vendorId"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Rejected", "UnknownMessageId", "UnknownVendorId"]},
				"data": {"type": "string"}
			},
			"additionalProperties": false,
			"required": ["status"]
		}`,
	},
	"GetConfiguration": {
		`{
			"type": "object",
			"properties": {
				"key": {"type": "array", "items": {"type": "string", "maxLength": 50}}
			},
			"additionalProperties": false
		}`,
		`{
			"type": "object",
			"properties": {
				"configurationKey": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"key": {"type": "string", "maxLength": 50},
							"readonly": {"type": "boolean"},
							"value": {"type": "string", "maxLength": 500}
						},
						"additionalProperties": false,
						"required": ["key", "readonly"]
					}
				},
				"unknownKey": {"type": "array", "items": {"type": "string", "maxLength": 50}}
			},
			"additionalProperties": false
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
	"RemoteStartTransaction": {
		`{
			"type": "object",
			"properties": {
				"connectorId": {"type": "integer", "minimum": 0},
				"idTag": {"type": "string", "minLength": 1, "maxLength": 20},
				"chargingProfile": {"type": "object"}
			},
			"additionalProperties": false,
			"required": ["idTag"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Rejected"]}
			},
			"additionalProperties": false,
			"required": ["status"]
		}`,
	},
	"RemoteStopTransaction": {
		`{
			"type": "object",
			"properties": {
				"transactionId": {"type": "integer"}
			},
			"additionalProperties": false,
			"required": ["transactionId"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Rejected"]}
			},
			"additionalProperties": false,
			"required": ["status"]
		}`,
	},
	"Reset": {
		`{
			"type": "object",
			"properties": {
				"type": {"type": "string", "enum": ["Hard", "Soft"]}
			},
			"additionalProperties": false,
			"required": ["type"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Accepted", "Rejected"]}
			},
			"additionalProperties": false,
			"required": ["status"]
		}`,
	},
	"StartTransaction": {
		`{
			"type": "object",
			"properties": {
				"connectorId": {"type": "integer", "minimum": 1},
				"idTag": {"type": "string", "minLength": 1, "maxLength": 20},
				"meterStart": {"type": "integer"},
				"reservationId": {"type": "integer"},
				"timestamp": {"type": "string", "format": "date-time"}
			},
			"additionalProperties": false,
			"required": ["connectorId", "idTag", "meterStart", "timestamp"]
		}`,
		`{
			"type": "object",
			"properties": {
				"idTagInfo": ` + idTagInfo16 + `,
				"transactionId": {"type": "integer"}
			},
			"additionalProperties": false,
			"required": ["idTagInfo", "transactionId"]
		}`,
	},
	"StatusNotification": {
		`{
			"type": "object",
			"properties": {
				"connectorId": {"type": "integer", "minimum": 0},
				"errorCode": {"type": "string", "enum": [
					"ConnectorLockFailure", "EVCommunicationError", "GroundFailure", "HighTemperature",
					"InternalError", "LocalListConflict", "NoError", "OtherError", "OverCurrentFailure",
					"PowerMeterFailure", "PowerSwitchFailure", "ReaderFailure", "ResetFailure",
					"UnderVoltage", "OverVoltage", "WeakSignal"
				]},
				"info": {"type": "string", "maxLength": 50},
				"status": {"type": "string", "enum": [
					"Available", "Preparing", "Charging", "SuspendedEVSE", "SuspendedEV",
					"Finishing", "Reserved", "Unavailable", "Faulted"
				]},
				"timestamp": {"type": "string", "format": "date-time"},
				"vendorId": {"type": "string", "maxLength": 255},
				"vendorErrorCode": {"type": "string", "maxLength": 50}
			},
			"additionalProperties": false,
			"required": ["connectorId", "errorCode", "status"]
		}`,
		`{"type": "object", "properties": {}, "additionalProperties": false}`,
	},
	"StopTransaction": {
		`{
			"type": "object",
			"properties": {
				"idTag": {"type": "string", "maxLength": 20},
				"meterStop": {"type": "integer"},
				"timestamp": {"type": "string", "format": "date-time"},
				"transactionId": {"type": "integer"},
				"reason": {"type": "string", "enum": [
					"EmergencyStop", "EVDisconnected", "HardReset", "Local", "Other",
					"PowerLoss", "Reboot", "Remote", "SoftReset", "UnlockCommand", "DeAuthorized"
				]},
				"transactionData": {"type": "array", "items": {"type": "object"}}
			},
			"additionalProperties": false,
			"required": ["meterStop", "timestamp", "transactionId"]
		}`,
		`{
			"type": "object",
			"properties": {"idTagInfo": ` + idTagInfo16 + `},
			"additionalProperties": false
		}`,
	},
	"UnlockConnector": {
		`{
			"type": "object",
			"properties": {
				"connectorId": {"type": "integer", "minimum": 1}
			},
			"additionalProperties": false,
			"required": ["connectorId"]
		}`,
		`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["Unlocked", "UnlockFailed", "NotSupported"]}
			},
			"additionalProperties": false,
			"required": ["status"]
		}`,
	},
}

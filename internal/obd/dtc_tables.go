package obd

// genericDTCs is the SAE J2012 generic description table. Not exhaustive;
// it covers the codes that actually show up on scan reports.
var genericDTCs = map[string]string{
	"P0011": "Camshaft Position - Timing Over-Advanced (Bank 1)",
	"P0016": "Crankshaft/Camshaft Position Correlation (Bank 1 Sensor A)",
	"P0030": "HO2S Heater Control Circuit (Bank 1 Sensor 1)",
	"P0087": "Fuel Rail/System Pressure Too Low",
	"P0101": "Mass Air Flow Circuit Range/Performance",
	"P0102": "Mass Air Flow Circuit Low Input",
	"P0103": "Mass Air Flow Circuit High Input",
	"P0113": "Intake Air Temperature Circuit High Input",
	"P0115": "Engine Coolant Temperature Circuit Malfunction",
	"P0118": "Engine Coolant Temperature Circuit High Input",
	"P0128": "Coolant Thermostat Below Regulating Temperature",
	"P0131": "O2 Sensor Circuit Low Voltage (Bank 1 Sensor 1)",
	"P0133": "O2 Sensor Circuit Slow Response (Bank 1 Sensor 1)",
	"P0135": "O2 Sensor Heater Circuit Malfunction (Bank 1 Sensor 1)",
	"P0141": "O2 Sensor Heater Circuit Malfunction (Bank 1 Sensor 2)",
	"P0143": "O2 Sensor Circuit Low Voltage (Bank 1 Sensor 3)",
	"P0171": "System Too Lean (Bank 1)",
	"P0172": "System Too Rich (Bank 1)",
	"P0174": "System Too Lean (Bank 2)",
	"P0175": "System Too Rich (Bank 2)",
	"P0196": "Engine Oil Temperature Sensor Range/Performance",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0302": "Cylinder 2 Misfire Detected",
	"P0303": "Cylinder 3 Misfire Detected",
	"P0304": "Cylinder 4 Misfire Detected",
	"P0305": "Cylinder 5 Misfire Detected",
	"P0306": "Cylinder 6 Misfire Detected",
	"P0325": "Knock Sensor 1 Circuit Malfunction",
	"P0335": "Crankshaft Position Sensor A Circuit Malfunction",
	"P0340": "Camshaft Position Sensor Circuit Malfunction",
	"P0401": "Exhaust Gas Recirculation Flow Insufficient",
	"P0402": "Exhaust Gas Recirculation Flow Excessive",
	"P0411": "Secondary Air Injection System Incorrect Flow",
	"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"P0430": "Catalyst System Efficiency Below Threshold (Bank 2)",
	"P0440": "Evaporative Emission Control System Malfunction",
	"P0441": "Evaporative Emission System Incorrect Purge Flow",
	"P0442": "Evaporative Emission System Leak Detected (Small)",
	"P0443": "Evaporative Emission System Purge Control Valve Circuit",
	"P0455": "Evaporative Emission System Leak Detected (Large)",
	"P0456": "Evaporative Emission System Leak Detected (Very Small)",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P0505": "Idle Control System Malfunction",
	"P0506": "Idle Control System RPM Lower Than Expected",
	"P0507": "Idle Control System RPM Higher Than Expected",
	"P0562": "System Voltage Low",
	"P0601": "Internal Control Module Memory Check Sum Error",
	"P0700": "Transmission Control System Malfunction",
	"P0715": "Input/Turbine Speed Sensor Circuit Malfunction",
	"P0740": "Torque Converter Clutch Circuit Malfunction",
	"C0035": "Left Front Wheel Speed Sensor Circuit",
	"C0040": "Right Front Wheel Speed Sensor Circuit",
	"B0001": "Driver Frontal Stage 1 Deployment Control",
	"B1000": "Body Control Module Malfunction",
	"U0001": "High Speed CAN Communication Bus",
	"U0100": "Lost Communication With ECM/PCM",
	"U0101": "Lost Communication With TCM",
	"U0121": "Lost Communication With ABS Control Module",
	"U0140": "Lost Communication With Body Control Module",
	"U0155": "Lost Communication With Instrument Cluster",
}

// chryslerDTCs overlays manufacturer-specific codes and wording for
// Chrysler/Jeep/Dodge vehicles.
var chryslerDTCs = map[string]string{
	"P0522": "Engine Oil Pressure Sensor Low Voltage",
	"P0562": "Battery Voltage Low (Chrysler charging system)",
	"P0700": "Transmission Control System (requires TCM code read)",
	"P1004": "Short Runner Valve Performance",
	"P1281": "Engine Is Cold Too Long (thermostat)",
	"P1282": "Fuel Pump Relay Control Circuit",
	"P1391": "Intermittent Loss of CMP or CKP",
	"P1494": "Leak Detection Pump Switch or Mechanical Fault",
	"P1684": "Battery Disconnected Within Last 50 Starts",
	"U0002": "CAN C Bus Off Performance",
	"U0168": "Lost Communication With Vehicle Security Module (WIN/SKREEM)",
	"U1403": "Implausible Fuel Level Signal Received",
}

// landRoverDTCs overlays manufacturer-specific codes for Land Rover.
var landRoverDTCs = map[string]string{
	"P0191": "Fuel Rail Pressure Sensor Performance (Td5/TdV6)",
	"P1171": "Fuelling System Lean During Acceleration",
	"P1316": "Injector Circuit/Glow Plug Monitoring Fault",
	"P1590": "ABS Rough Road Signal Circuit",
	"P1610": "Engine Immobilizer Communication Fault",
	"C1095": "ABS Hydraulic Pump Motor Circuit Failure",
	"C1A20": "Air Suspension Height Sensor Front Left",
	"C1A31": "Air Suspension Compressor Performance",
	"U2100": "Initial Configuration Not Complete",
}

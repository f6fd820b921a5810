package kraken

// GraphQL documents sent to the Kraken API.

const accountQuery = `
query ComprehensiveDataQuery($accountNumber: String!) {
  account(accountNumber: $accountNumber) {
    id
    ledgers {
      balance
      ledgerType
    }
    properties {
      id
      electricitySupplyPoints {
        id
        pod
        status
        enrolmentStatus
        enrolmentStartDate
        supplyStartDate
        cancellationReason
        isSmartMeter
        product {
          __typename
          ... on ElectricityProductType {
            code
            description
            displayName
            fullName
            termsAndConditionsUrl
            validTo
            params {
              productType
              annualStandingCharge
              consumptionCharge
              consumptionChargeF2
              consumptionChargeF3
            }
            prices {
              productType
              annualStandingCharge
              annualStandingChargeUnits
              consumptionCharge
              consumptionChargeF2
              consumptionChargeF3
              consumptionChargeUnits
            }
          }
        }
        agreements(first: 10) {
          edges {
            node {
              id
              validFrom
              validTo
              agreedAt
              terminatedAt
              isActive
              product {
                __typename
                ... on ElectricityProductType {
                  code
                  description
                  displayName
                  fullName
                  termsAndConditionsUrl
                  validTo
                  params {
                    productType
                    annualStandingCharge
                    consumptionCharge
                    consumptionChargeF2
                    consumptionChargeF3
                  }
                  prices {
                    productType
                    annualStandingCharge
                    annualStandingChargeUnits
                    consumptionCharge
                    consumptionChargeF2
                    consumptionChargeF3
                    consumptionChargeUnits
                  }
                }
              }
            }
          }
        }
      }
      gasSupplyPoints {
        id
        pdr
        status
        enrolmentStatus
        enrolmentStartDate
        supplyStartDate
        cancellationReason
        isSmartMeter
        product {
          __typename
          ... on GasProductType {
            code
            description
            displayName
            fullName
            termsAndConditionsUrl
            validTo
            params {
              productType
              annualStandingCharge
              consumptionCharge
            }
            prices {
              annualStandingCharge
              consumptionCharge
            }
          }
        }
        agreements(first: 10) {
          edges {
            node {
              id
              validFrom
              validTo
              agreedAt
              terminatedAt
              isActive
              product {
                __typename
                ... on GasProductType {
                  code
                  description
                  displayName
                  fullName
                  termsAndConditionsUrl
                  validTo
                  params {
                    productType
                    annualStandingCharge
                    consumptionCharge
                  }
                  prices {
                    annualStandingCharge
                    consumptionCharge
                  }
                }
              }
            }
          }
        }
      }
    }
  }
  completedDispatches(accountNumber: $accountNumber) {
    delta
    deltaKwh
    end
    endDt
    meta {
      location
      source
    }
    start
    startDt
  }
  devices(accountNumber: $accountNumber) {
    status {
      current
      currentState
      isSuspended
    }
    provider
    preferences {
      mode
      schedules {
        dayOfWeek
        max
        min
        time
      }
      targetType
      unit
      gridExport
    }
    preferenceSetting {
      deviceType
      id
      mode
      scheduleSettings {
        id
        max
        min
        step
        timeFrom
        timeStep
        timeTo
      }
      unit
    }
    name
    integrationDeviceId
    id
    deviceType
    alerts {
      message
      publishedAt
    }
    ... on SmartFlexVehicle {
      id
      name
      status {
        current
        currentState
        isSuspended
      }
      vehicleVariant {
        model
        batterySize
      }
    }
  }
}
`

const flexPlannedDispatchesQuery = `
query flexPlannedDispatches($deviceId: String!) {
  flexPlannedDispatches(deviceId: $deviceId) {
    end
    energyAddedKwh
    start
    type
  }
}
`

const gasMeterReadingsQuery = `
query GasMeterReadings($accountNumber: String!, $meterId: ID!) {
  gasMeterReadings(accountNumber: $accountNumber, meterId: $meterId, first: 1) {
    edges {
      node {
        value
        readAt
        registerObisCode
        typeOfRead
        origin
        meterId
      }
    }
  }
}
`

const electricityMeterReadingsQuery = `
query ElectricityMeterReadings($accountNumber: String!, $meterId: ID!) {
  electricityMeterReadings(accountNumber: $accountNumber, meterId: $meterId, first: 1) {
    edges {
      node {
        value
        readAt
        registerObisCode
        typeOfRead
        origin
        meterId
        registerType
      }
    }
  }
}
`

const viewerAccountsQuery = `
query ViewerAccounts {
  viewer {
    accounts {
      number
      ledgers {
        balance
        ledgerType
      }
    }
  }
}
`

const updateDeviceSmartControlMutation = `
mutation ChangeDeviceSuspension($deviceId: ID!, $action: SmartControlAction!) {
  updateDeviceSmartControl(input: {deviceId: $deviceId, action: $action}) {
    id
  }
}
`

const updateBoostChargeMutation = `
mutation UpdateBoostCharge($deviceId: ID!, $action: BoostChargeAction!) {
  updateBoostCharge(input: {deviceId: $deviceId, action: $action}) {
    id
  }
}
`

const setDevicePreferencesMutation = `
mutation setDevicePreferences($input: SmartFlexDevicePreferencesInput!) {
  setDevicePreferences(input: $input) {
    id
  }
}
`

package tibber

// Upstream endpoints. The GraphQL surface is the one the official mobile app
// talks to; the query bodies below are reproduced verbatim for compatibility.
const (
	DefaultAuthURL    = "https://app.tibber.com/login.credentials"
	DefaultGraphQLURL = "https://app.tibber.com/v4/gql"
)

const homesQuery = `
{
  me {
    homes {
      id
      timeZone
      hasSmartMeterCapabilities
      hasSignedEnergyDeal
      hasConsumption
    }
  }
}
`

const gizmosQuery = `
query GetGizmos($homeId: String!) {
  me {
    home(id: $homeId) {
      gizmos {
        __typename
        ... on Gizmo {
          id
          title
          type
          isHidden
        }
      }
    }
  }
}
`

// The API does not honor daily resolution, so both daily and monthly requests
// send the monthly body; monthly resolution still covers the requested range.
const gridRewardsQuery = `
query GetGridRewards($homeId: String!, $fromDate: String!, $toDate: String!) {
  me {
    home(id: $homeId) {
      gridRewardsHistoryPeriod(
        from: $fromDate,
        to: $toDate,
        resolution: monthly
      ) {
        from
        to
        batteryRewards
        vehicleRewards
        totalReward
        currency
      }
    }
  }
}
`
